// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// librachat-keytool manages the homeserver's signing key and checks
// the key documents published by other servers.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/librachat/federation"
	"github.com/bureau-foundation/librachat/lib/logging"
	"github.com/bureau-foundation/librachat/lib/process"
	"github.com/bureau-foundation/librachat/lib/secret"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}
	switch args[0] {
	case "generate":
		return runGenerate(args[1:], stdout)
	case "show":
		return runShow(args[1:], stdout)
	case "verify-remote":
		return runVerifyRemote(args[1:], stdout)
	case "version":
		fmt.Fprintf(stdout, "librachat-keytool %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: librachat-keytool <subcommand> [flags]

Subcommands:
  generate        Create the server signing key in a state directory
  show            Print the key ID and public key of an existing key
  verify-remote   Fetch and verify another server's key document
  version         Print version information

Run 'librachat-keytool <subcommand> --help' for subcommand flags.
`)
}

type keyFlags struct {
	stateDir string
	keyName  string
}

func (k *keyFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&k.stateDir, "state-dir", "", "homeserver state directory (paths.state)")
	flags.StringVar(&k.keyName, "key-name", "key1", "key ID suffix (signing.key_name)")
}

func (k *keyFlags) validate() error {
	if k.stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}
	return nil
}

func printKey(stdout io.Writer, keyName string, public ed25519.PublicKey) {
	fmt.Fprintf(stdout, "%s:%s %s\n", signing.Algorithm, keyName, signing.EncodeBase64(public))
}

func parseFlags(flags *pflag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// runGenerate writes a new key into the state directory. An existing
// key is left in place and reported. With --seed-only nothing is
// written; the base64 seed for signing.seed is printed instead.
func runGenerate(args []string, stdout io.Writer) error {
	var (
		key      keyFlags
		seedOnly bool
	)
	flags := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	key.register(flags)
	flags.BoolVar(&seedOnly, "seed-only", false, "print a new base64 seed instead of writing key files")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	logger := logging.NewCommandLogger()

	if seedOnly {
		public, private, err := signing.GenerateKeypair()
		if err != nil {
			return err
		}
		if file, ok := stdout.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			logger.Warn("printing a private signing seed to the terminal")
		}
		fmt.Fprintf(stdout, "%s\n", signing.EncodeBase64(private.Seed()))
		printKey(os.Stderr, key.keyName, public)
		return nil
	}

	if err := key.validate(); err != nil {
		return err
	}
	public, _, generated, err := signing.LoadOrGenerateKeypair(key.stateDir, signing.ServerKeyName)
	if err != nil {
		return err
	}
	if generated {
		logger.Info("generated server signing key", "state_dir", key.stateDir)
	} else {
		logger.Info("server signing key already exists", "state_dir", key.stateDir)
	}
	printKey(stdout, key.keyName, public)
	return nil
}

// runShow prints the public key from the state directory, or with
// --seed-file the key that a signing.seed value would produce.
func runShow(args []string, stdout io.Writer) error {
	var (
		key      keyFlags
		seedFile string
	)
	flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
	key.register(flags)
	flags.StringVar(&seedFile, "seed-file", "", "read a base64 seed from this file (\"-\" for stdin) instead of the state directory")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if seedFile != "" {
		buffer, err := secret.ReadFromPath(seedFile)
		if err != nil {
			return err
		}
		defer buffer.Close()
		private, err := signing.KeyFromSeed(buffer.String())
		if err != nil {
			return err
		}
		printKey(stdout, key.keyName, private.Public().(ed25519.PublicKey))
		return nil
	}
	if err := key.validate(); err != nil {
		return err
	}
	public, _, err := signing.LoadKeypair(key.stateDir, signing.ServerKeyName)
	if err != nil {
		return err
	}
	printKey(stdout, key.keyName, public)
	return nil
}

// runVerifyRemote fetches the key document at a server's base URL,
// checks its self-signature, and checks the signed version document
// against it.
func runVerifyRemote(args []string, stdout io.Writer) error {
	var timeout time.Duration
	flags := pflag.NewFlagSet("verify-remote", pflag.ContinueOnError)
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "timeout for each request")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: librachat-keytool verify-remote [--timeout D] <base-url>")
	}
	baseURL := flags.Arg(0)

	client := federation.NewClient(&http.Client{Timeout: timeout})
	ctx := context.Background()
	keys, err := client.ServerKeys(ctx, baseURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "server_name: %s\n", keys.ServerName)
	fmt.Fprintf(stdout, "valid_until: %s\n", time.UnixMilli(keys.ValidUntilTS).UTC().Format(time.RFC3339))
	keyIDs := make([]string, 0, len(keys.VerifyKeys))
	for keyID := range keys.VerifyKeys {
		keyIDs = append(keyIDs, keyID)
	}
	slices.Sort(keyIDs)
	for _, keyID := range keyIDs {
		fmt.Fprintf(stdout, "verify_key: %s %s\n", keyID, keys.VerifyKeys[keyID].Key)
	}

	response, err := client.Version(ctx, baseURL, keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version: %s %s\n", response.Server.Name, response.Server.Version)
	fmt.Fprintf(stdout, "signatures: ok\n")
	return nil
}
