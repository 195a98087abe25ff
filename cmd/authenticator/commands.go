// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/silicon-key/ctap2"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/pin"
	"github.com/silicon-key/ctap2/storage"
	"github.com/silicon-key/ctap2/wrap"
)

// autoPresence grants every user-presence prompt immediately, standing in
// for a real button press or biometric check in this CLI simulator.
type autoPresence struct{}

func (autoPresence) Prompt(ctx context.Context, timeout time.Duration) (ctap2.PresenceResult, error) {
	return ctap2.PresenceGranted, nil
}

type logKeepalive struct{}

func (logKeepalive) Ping() { slog.Debug("keepalive") }

// openAuthenticator opens the bbolt store at dbPath and wires a fresh
// Authenticator around it. The PIN subsystem's key-agreement key pair and
// token are process-lifetime only (§3/§9): each CLI invocation is its own
// process, so a getKeyAgreement/getPINToken round trip must happen within
// a single command.
func openAuthenticator() (*ctap2.Authenticator, *storage.Bolt, error) {
	store, err := storage.OpenBolt(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	initialized, err := store.IsInitialized()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if !initialized {
		_ = store.Close()
		return nil, nil, fmt.Errorf("database %q is not initialized; run 'authenticator init' first", dbPath)
	}

	registry := cose.NewDefaultRegistry()
	registry.Register(cose.NewRS256Provider())
	registry.Register(cose.NewEdDSAProvider())

	wrapper := wrap.NewAESGCMWrapper()
	pinProto, err := pin.NewProtocol(rand.Reader)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("initializing pin protocol: %w", err)
	}

	cfg := ctap2.DefaultConfig()
	if aaguid != "" {
		raw, _ := hex.DecodeString(aaguid)
		copy(cfg.AAGUID[:], raw)
	}

	auth := ctap2.New(cfg, registry, wrapper, store, pinProto, autoPresence{}, logKeepalive{}, rand.Reader, slog.Default())
	return auth, store, nil
}

func dispatch(auth *ctap2.Authenticator, cmd byte, params any) (map[any]any, error) {
	var raw cbor.RawMessage
	if params != nil {
		encoded, err := cbor.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		raw = encoded
	}
	status, body := auth.Dispatch(context.Background(), cmd, raw)
	if status != ctap2.StatusOK {
		return nil, fmt.Errorf("ctap2 status 0x%02x", status)
	}
	if len(body) == 0 {
		return nil, nil
	}
	var out map[any]any
	if err := cbor.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fresh authenticator database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			return err
		}
		store, err := storage.OpenBolt(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Init(); err != nil {
			return err
		}
		key, err := wrap.NewAESGCMWrapper().GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		if err := store.SetWrappingKey(key); err != nil {
			return err
		}
		fmt.Printf("initialized %s\n", dbPath)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the authenticator's GetInfo response",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			return err
		}
		auth, store, err := openAuthenticator()
		if err != nil {
			return err
		}
		defer store.Close()
		resp, err := dispatch(auth, ctap2.CmdGetInfo, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", resp)
		return nil
	},
}

type rpEntityWire struct {
	ID string `cbor:"id"`
}

type userEntityWire struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

type credParamWire struct {
	Alg  int64  `cbor:"alg"`
	Type string `cbor:"type"`
}

type makeCredentialOptionsWire struct {
	RK bool `cbor:"rk,omitempty"`
}

type makeCredentialRequestWire struct {
	ClientDataHash   []byte                     `cbor:"1,keyasint"`
	RP               rpEntityWire               `cbor:"2,keyasint"`
	User             userEntityWire             `cbor:"3,keyasint"`
	PubKeyCredParams []credParamWire            `cbor:"4,keyasint"`
	Options          *makeCredentialOptionsWire `cbor:"7,keyasint,omitempty"`
}

var (
	registerRPID        string
	registerUsername    string
	registerResidentKey bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Run authenticatorMakeCredential against a relying party",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			return err
		}
		auth, store, err := openAuthenticator()
		if err != nil {
			return err
		}
		defer store.Close()

		clientDataHash := sha256.Sum256([]byte(fmt.Sprintf("register:%s:%s", registerRPID, registerUsername)))
		req := makeCredentialRequestWire{
			ClientDataHash: clientDataHash[:],
			RP:             rpEntityWire{ID: registerRPID},
			User: userEntityWire{
				ID:   []byte(uuid.New().String()),
				Name: registerUsername,
			},
			PubKeyCredParams: []credParamWire{{Alg: cose.AlgES256, Type: "public-key"}},
			Options:          &makeCredentialOptionsWire{RK: registerResidentKey},
		}
		status, body := auth.Dispatch(context.Background(), ctap2.CmdMakeCredential, mustMarshal(req))
		if status != ctap2.StatusOK {
			return fmt.Errorf("ctap2 status 0x%02x", status)
		}
		fmt.Printf("attestation object (%d bytes): %x\n", len(body), body)
		return nil
	},
}

type credentialDescriptorWire struct {
	Type string `cbor:"type"`
	ID   []byte `cbor:"id"`
}

type getAssertionRequestWire struct {
	RPID           string                     `cbor:"1,keyasint"`
	ClientDataHash []byte                     `cbor:"2,keyasint"`
	AllowList      []credentialDescriptorWire `cbor:"3,keyasint,omitempty"`
}

var assertRPID string

var assertCmd = &cobra.Command{
	Use:   "assert",
	Short: "Run authenticatorGetAssertion against a relying party",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			return err
		}
		auth, store, err := openAuthenticator()
		if err != nil {
			return err
		}
		defer store.Close()

		clientDataHash := sha256.Sum256([]byte(fmt.Sprintf("assert:%s", assertRPID)))
		req := getAssertionRequestWire{
			RPID:           assertRPID,
			ClientDataHash: clientDataHash[:],
		}
		resp, err := dispatch(auth, ctap2.CmdGetAssertion, req)
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", resp)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run authenticatorReset, erasing all credentials and PIN state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			return err
		}
		auth, store, err := openAuthenticator()
		if err != nil {
			return err
		}
		defer store.Close()
		status, _ := auth.Dispatch(context.Background(), ctap2.CmdReset, nil)
		if status != ctap2.StatusOK {
			return fmt.Errorf("ctap2 status 0x%02x", status)
		}
		fmt.Println("reset complete")
		return nil
	},
}

func mustMarshal(v any) cbor.RawMessage {
	raw, err := cbor.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func init() {
	registerCmd.Flags().StringVar(&registerRPID, "rp", "example.com", "relying party ID")
	registerCmd.Flags().StringVar(&registerUsername, "user", "alice", "user name")
	registerCmd.Flags().BoolVar(&registerResidentKey, "rk", false, "request a resident (discoverable) credential")
	assertCmd.Flags().StringVar(&assertRPID, "rp", "example.com", "relying party ID")

	rootCmd.AddCommand(initCmd, infoCmd, registerCmd, assertCmd, resetCmd)
}
