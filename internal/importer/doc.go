// Package importer loads monitored targets from a YAML file in the
// configs/urls layout and applies them to the store.
package importer
