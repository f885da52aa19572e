package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/ruteri/zk-keyservice/api/directoryhandler"
	"github.com/ruteri/zk-keyservice/cmd/flags"
	"github.com/ruteri/zk-keyservice/config"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/lifecycle"
	"github.com/ruteri/zk-keyservice/messenger"
	"github.com/urfave/cli/v2"
)

var PasswordFlag = &cli.StringFlag{
	Name:    "password",
	Usage:   "account password; prefer the environment variable over the flag",
	EnvVars: []string{"ZK_KEYSERVICE_PASSWORD"},
}

var PeerFlag = &cli.StringFlag{
	Name:     "to",
	Required: true,
	Usage:    "recipient user id",
}

var ConversationFlag = &cli.StringFlag{
	Name:     "conversation",
	Required: true,
	Usage:    "conversation id",
}

var RestoreFlag = &cli.StringFlag{
	Name:  "restore",
	Usage: "restore the salt on a new device from a recovery phrase",
}

// keyctl is one signed-in session: a manager over the remote directory and
// the local profile and keyring storage.
type keyctl struct {
	cfg     *config.Config
	manager *lifecycle.Manager
	log     *slog.Logger
}

func deviceID(ctx context.Context, blobs interfaces.BlobStore, user interfaces.UserID) (interfaces.DeviceID, error) {
	key := interfaces.BlobKeyFor("devices", string(user))
	id, err := blobs.Get(ctx, key)
	if err == nil {
		return interfaces.DeviceID(id), nil
	}
	if !errors.Is(err, interfaces.ErrContentNotFound) {
		return "", err
	}

	fresh := uuid.NewString()
	if err := blobs.Put(ctx, key, []byte(fresh)); err != nil {
		return "", err
	}
	return interfaces.DeviceID(fresh), nil
}

func setup(cCtx *cli.Context) (*keyctl, error) {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	deriver, err := cfg.Deriver()
	if err != nil {
		return nil, err
	}

	blobs, err := flags.SetupStorage(cCtx, logger)
	if err != nil {
		return nil, err
	}

	user := interfaces.UserID(cCtx.String(flags.UserFlag.Name))
	device, err := deviceID(cCtx.Context, blobs, user)
	if err != nil {
		return nil, fmt.Errorf("could not load device id: %w", err)
	}

	store := cfg.Store(logger).WithPersistence(blobs, interfaces.BlobKeyFor("keyrings", string(user)), cfg.Keyring)
	manager, err := lifecycle.New(lifecycle.Config{
		UserID:          user,
		DeviceID:        device,
		Deriver:         deriver,
		Store:           store,
		Directory:       directoryhandler.NewClient(cCtx.String(flags.DirectoryURLFlag.Name)),
		Profiles:        blobs,
		RederiveHistory: cfg.RederiveHistory,
		Log:             logger,
	})
	if err != nil {
		return nil, err
	}
	return &keyctl{cfg: cfg, manager: manager, log: logger}, nil
}

// run wraps a command so users only ever see the collapsed failure
// category; the detail goes to the log.
func run(action func(*keyctl, *cli.Context) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		k, err := setup(cCtx)
		if err != nil {
			return err
		}
		if err := action(k, cCtx); err != nil {
			k.log.Debug("Command failed", "err", err)
			return cli.Exit(fmt.Sprintf("%s: %s", cCtx.Command.Name, interfaces.Classify(err)), 1)
		}
		return nil
	}
}

func password(cCtx *cli.Context) (string, error) {
	pw := cCtx.String(PasswordFlag.Name)
	if pw == "" {
		return "", fmt.Errorf("%w: no password given", interfaces.ErrWeakInput)
	}
	return pw, nil
}

func (k *keyctl) unlock(cCtx *cli.Context) error {
	pw, err := password(cCtx)
	if err != nil {
		return err
	}
	return k.manager.DeriveKeys(cCtx.Context, pw)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type status struct {
	User           interfaces.UserID `json:"user"`
	State          string            `json:"state"`
	Generation     *uint64           `json:"generation,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	Retained       []uint64          `json:"retained_generations,omitempty"`
	NeedsMigration bool              `json:"needs_migration"`
}

func (k *keyctl) status() status {
	s := status{
		User:           k.manager.UserID(),
		State:          k.manager.State().String(),
		NeedsMigration: k.manager.NeedsMigration(),
	}
	if current := k.manager.GetCurrentKeys(); current != nil {
		generation := current.Generation
		s.Generation = &generation
		s.Fingerprint = current.Public.Fingerprint()
	}
	for _, pair := range k.manager.History() {
		s.Retained = append(s.Retained, pair.Generation)
	}
	return s
}

func main() {
	storageFlag := *flags.StorageFlag
	storageFlag.Value = cli.NewStringSlice("file://./keyctl-data")

	app := &cli.App{
		Name:  "keyctl",
		Usage: "Manage zero-knowledge keys and encrypt messages",
		Flags: append([]cli.Flag{
			flags.UserFlag,
			flags.DirectoryURLFlag,
			&storageFlag,
			flags.ConfigFlag,
			PasswordFlag,
			flags.LogServiceFlagFn("keyctl"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "derive and publish generation 0",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					pw, err := password(cCtx)
					if err != nil {
						return err
					}
					if err := k.manager.InitializeKeys(cCtx.Context, pw); err != nil {
						return err
					}
					phrase, err := k.manager.RecoveryPhrase(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Fprintln(os.Stderr, "Write down your recovery phrase; it is needed to sign in on another device:")
					fmt.Fprintln(os.Stderr, phrase)
					return printJSON(k.status())
				}),
			},
			{
				Name:  "unlock",
				Usage: "sign in and refresh the local keyring",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if err := k.unlock(cCtx); err != nil {
						return err
					}
					return printJSON(k.status())
				}),
			},
			{
				Name:  "rotate",
				Usage: "publish a new key generation",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if err := k.unlock(cCtx); err != nil {
						return err
					}
					if err := k.manager.RotateKeys(cCtx.Context, cCtx.String(PasswordFlag.Name)); err != nil {
						return err
					}
					return printJSON(k.status())
				}),
			},
			{
				Name:  "revoke",
				Usage: "revoke every published generation and wipe local keys",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if err := k.unlock(cCtx); err != nil {
						return err
					}
					if err := k.manager.RevokeKeys(cCtx.Context); err != nil {
						return err
					}
					return printJSON(k.status())
				}),
			},
			{
				Name:  "migrate",
				Usage: "replace a legacy-scheme key with a current-scheme one",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					pw, err := password(cCtx)
					if err != nil {
						return err
					}
					if err := k.manager.MigrateKeys(cCtx.Context, pw); err != nil {
						return err
					}
					return printJSON(k.status())
				}),
			},
			{
				Name:  "status",
				Usage: "show the lifecycle state; unlocks first when a password is given",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if cCtx.String(PasswordFlag.Name) != "" {
						if err := k.unlock(cCtx); err != nil {
							return err
						}
					}
					return printJSON(k.status())
				}),
			},
			{
				Name:      "pubkey",
				Usage:     "print the directory record of a user",
				ArgsUsage: "[user]",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					user := k.manager.UserID()
					if cCtx.Args().Present() {
						user = interfaces.UserID(cCtx.Args().First())
					}
					record, err := k.manager.GetUserPublicKey(cCtx.Context, user)
					if err != nil {
						return err
					}
					return printJSON(record)
				}),
			},
			{
				Name:  "encrypt",
				Usage: "encrypt stdin for a peer and print the envelope",
				Flags: []cli.Flag{PeerFlag, ConversationFlag},
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if err := k.unlock(cCtx); err != nil {
						return err
					}
					cryptor, err := k.cfg.Cryptor()
					if err != nil {
						return err
					}
					plaintext, err := io.ReadAll(os.Stdin)
					if err != nil {
						return err
					}

					env, err := messenger.New(k.manager, cryptor, k.log).Seal(cCtx.Context,
						interfaces.UserID(cCtx.String(PeerFlag.Name)),
						interfaces.ConversationID(cCtx.String(ConversationFlag.Name)),
						plaintext)
					if err != nil {
						return err
					}
					return printJSON(env)
				}),
			},
			{
				Name:  "decrypt",
				Usage: "decrypt an envelope read from stdin",
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					var env messenger.Envelope
					if err := json.NewDecoder(os.Stdin).Decode(&env); err != nil {
						return fmt.Errorf("%w: malformed envelope: %v", interfaces.ErrAuthentication, err)
					}
					if err := k.unlock(cCtx); err != nil {
						return err
					}
					cryptor, err := k.cfg.Cryptor()
					if err != nil {
						return err
					}

					plaintext, err := messenger.New(k.manager, cryptor, k.log).Open(cCtx.Context, &env)
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(plaintext)
					return err
				}),
			},
			{
				Name:  "recovery-phrase",
				Usage: "print the recovery phrase, or restore from one with --restore",
				Flags: []cli.Flag{RestoreFlag},
				Action: run(func(k *keyctl, cCtx *cli.Context) error {
					if phrase := cCtx.String(RestoreFlag.Name); phrase != "" {
						if err := k.manager.RestoreRecoveryPhrase(cCtx.Context, phrase); err != nil {
							return err
						}
						fmt.Fprintln(os.Stderr, "Recovery phrase restored; run unlock to sign in.")
						return nil
					}
					phrase, err := k.manager.RecoveryPhrase(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(phrase)
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
