package store

// Package store is the storefront persistence layer: users, orders,
// products, scheduled post templates, and the delivery history tables
// the notification pipeline writes to.
