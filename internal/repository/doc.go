// Package repository prepares extra instruction sources that are merged,
// read-only, into the catalog: plain local directories and GitHub
// repositories cloned into the data directory. Private repositories
// authenticate with a personal access token kept in the OS keyring.
package repository
