// Package db provides embedded database schema and seed files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// CouponSeed is the JSON definition of the primary coupon catalog.
//
//go:embed seed/coupons.json
var CouponSeed []byte

// ProductSeed is the JSON product list loaded by the seed tool.
//
//go:embed seed/products.json
var ProductSeed []byte
