// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the homeserver configuration.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the LIBRACHAT_CONFIG environment variable (via
// [Load]). There is no search path and no per-field environment
// override. Files ending in .json or .jsonc are parsed as JSON with
// comments and trailing commas; everything else is YAML.
//
// The file may carry development, staging and production sections
// that override base values when [Config].Environment matches.
// Production tightens the request rate limit unless the file says
// otherwise.
//
// Path fields expand ${HOME}, ${LIBRACHAT_STATE} and ${VAR:-default}.
package config
