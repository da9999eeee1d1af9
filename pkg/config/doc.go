// Package config parses the runtime's definition files: graph definitions
// written in CUE (nodes, connections, and capability grants), standalone
// YAML grant files, and the YAML runtime settings file. Structural rules are
// enforced with struct validation tags; semantic problems are collected as
// positioned validation errors rather than aborting at the first one.
package config
