// Package store declares the persistence contract for finished scam reports.
package store
