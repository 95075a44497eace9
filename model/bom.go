// Package model - Bom defines the inventory (bill of materials) document and its owning product
package model

import "time"

// Bom is the record of all packages for one scanned product release
type Bom struct {
	Key        string    `json:"_key,omitempty"`
	ObjType    string    `json:"objtype,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	ProductKey string    `json:"product_key,omitempty"`
}

// NewBom is the constructor that sets the appropriate default values
func NewBom() *Bom {
	return &Bom{
		ObjType:   "Bom",
		CreatedAt: time.Now(),
	}
}

// Product describes the product a bom was generated for.
// ProductType selects the license resolution strategy.
type Product struct {
	Key            string `json:"_key,omitempty"`
	ObjType        string `json:"objtype,omitempty"`
	Name           string `json:"name"`
	ProductType    string `json:"product_type"`
	ProductVersion string `json:"product_version"`
}

// NewProduct creates a new Product instance
func NewProduct() *Product {
	return &Product{
		ObjType: "Product",
	}
}
