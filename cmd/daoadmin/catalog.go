package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/daostore/internal/shop"
)

// catalogFile is the seed format:
//
//	products:
//	  - name: Guild Hoodie
//	    category: hoodie
//	    sizes: [S, M, L]
//	    price_cents: 6000
//	    tokens_reward: 30
//	    stock: 25
type catalogFile struct {
	Products []shop.ProductInput `yaml:"products"`
}

func loadCatalog(path string) ([]shop.ProductInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return parseCatalog(data)
}

// parseCatalog rejects unknown keys so a typo does not silently seed a
// product with zero stock.
func parseCatalog(data []byte) ([]shop.ProductInput, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cf catalogFile
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cf.Products) == 0 {
		return nil, errors.New("catalog lists no products")
	}
	return cf.Products, nil
}
