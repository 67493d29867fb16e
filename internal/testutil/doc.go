// Package testutil provides testing utilities and test fixtures for the
// tokenvault library. It includes generators for authentications, tokens,
// and registry records used across the backend and store test suites.
package testutil
