package cli

import (
	"errors"
	"strings"

	"github.com/open-oni/oni-admin/internal/batch"
)

// Validation errors.
var (
	ErrBatchPathRequired = errors.New("a batch path is required")
	ErrBatchNameRequired = errors.New("a batch name is required")
	ErrInvalidBatchName  = errors.New("batch name must look like batch_<org>_<name>_ver<NN>")
)

// ParseLoadTarget validates the batch path argument of `load`.
func ParseLoadTarget(arg string) (string, error) {
	path := strings.TrimSpace(arg)
	if path == "" {
		return "", ErrBatchPathRequired
	}
	if !batch.ValidName(batch.NameFromPath(path)) {
		return "", ErrInvalidBatchName
	}
	return path, nil
}

// ParsePurgeTarget validates the batch name argument of `purge`.
func ParsePurgeTarget(arg string) (string, error) {
	name := strings.TrimSpace(arg)
	if name == "" {
		return "", ErrBatchNameRequired
	}
	if !batch.ValidName(name) {
		return "", ErrInvalidBatchName
	}
	return name, nil
}
