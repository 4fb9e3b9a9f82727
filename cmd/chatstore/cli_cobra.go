package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/chatstore/pkg/config"
	"github.com/dotsetgreg/chatstore/pkg/seed"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var showVersion bool
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "chatstore",
		Short: "Cache-coherent store for characters, voices, conversations and messages",
		Long: strings.TrimSpace(`chatstore keeps characters and voices in a warm in-memory cache over
a SQLite database, and records conversations and messages.

Use CLI commands to initialise the database, inspect and edit records, seed a
cast from YAML, record a conversation and refresh the cache.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath(), "Path to config.json")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides storage.path)")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newInitCommand(flags))
	root.AddCommand(newCharactersCommand(flags))
	root.AddCommand(newVoicesCommand(flags))
	root.AddCommand(newConversationsCommand(flags))
	root.AddCommand(newMessagesCommand(flags))
	root.AddCommand(newSeedCommand(flags))
	root.AddCommand(newRecordCommand(flags))
	root.AddCommand(newRefreshCommand(flags))
	root.AddCommand(newMetricsCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

// withSession opens the director for the duration of fn.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newInitCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Create the database and a default config file",
		Example: "  chatstore init --db ./chat.db",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(flags.configPath); os.IsNotExist(err) {
				if err := config.SaveConfig(flags.configPath, config.DefaultConfig()); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", flags.configPath)
			}
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s\n", s.cfg.DatabasePath())
				return nil
			})
		},
	}
}

func newCharactersCommand(flags *globalFlags) *cobra.Command {
	charRoot := &cobra.Command{
		Use:   "characters",
		Short: "Manage characters",
	}

	var (
		activeOnly bool
		search     string
	)
	list := &cobra.Command{
		Use:     "list",
		Short:   "List characters",
		Example: "  chatstore characters list --active\n  chatstore characters list --search robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				var (
					chars []store.Character
					err   error
				)
				switch {
				case search != "":
					chars, err = s.dir.SearchCharacters(ctx, search)
				case activeOnly:
					chars, err = s.dir.ActiveCharacters(ctx)
				default:
					chars, err = s.dir.AllCharacters(ctx)
				}
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tVOICE\tACTIVE")
				for _, c := range chars {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", c.ID, c.Name, c.Voice, c.IsActive)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "Only active characters")
	list.Flags().StringVar(&search, "search", "", "Case-insensitive name filter")

	var in store.CharacterCreate
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a character",
		Example: "  chatstore characters create --name Robot --voice aria --active",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				c, err := s.dir.CreateCharacter(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", c.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "Display name")
	create.Flags().StringVar(&in.Voice, "voice", "", "Voice name")
	create.Flags().StringVar(&in.SystemPrompt, "prompt", "", "System prompt")
	create.Flags().StringVar(&in.ImageURL, "image", "", "Primary image URL")
	create.Flags().StringSliceVar(&in.Images, "images", nil, "Additional image paths")
	create.Flags().BoolVar(&in.IsActive, "active", false, "Mark the character active")
	_ = create.MarkFlagRequired("name")

	charRoot.AddCommand(list, create, &cobra.Command{
		Use:     "delete <id>",
		Short:   "Delete a character",
		Args:    cobra.ExactArgs(1),
		Example: "  chatstore characters delete robot-001",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				if err := s.dir.DeleteCharacter(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	})
	return charRoot
}

func newVoicesCommand(flags *globalFlags) *cobra.Command {
	voiceRoot := &cobra.Command{
		Use:   "voices",
		Short: "Manage voices",
		Long:  "Voices are keyed by name. Renaming or deleting a voice updates every character that uses it.",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				voices, err := s.dir.AllVoices(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VOICE\tMETHOD\tTOKENS")
				for _, v := range voices {
					fmt.Fprintf(w, "%s\t%s\t%t\n", v.Voice, v.Method, v.AudioTokens != nil)
				}
				return w.Flush()
			})
		},
	}

	var in store.VoiceCreate
	create := &cobra.Command{
		Use:     "create <name>",
		Short:   "Create a voice",
		Args:    cobra.ExactArgs(1),
		Example: "  chatstore voices create aria --method clone --audio voices/aria.wav",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Voice = args[0]
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				v, err := s.dir.CreateVoice(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", v.Voice)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.Method, "method", "", "Voice method")
	create.Flags().StringVar(&in.AudioPath, "audio", "", "Reference audio path")
	create.Flags().StringVar(&in.TextPath, "text", "", "Reference transcript path")
	create.Flags().StringVar(&in.SpeakerDesc, "speaker", "", "Speaker description")
	create.Flags().StringVar(&in.ScenePrompt, "scene", "", "Scene prompt")

	rename := &cobra.Command{
		Use:     "rename <old> <new>",
		Short:   "Rename a voice and re-point its characters",
		Args:    cobra.ExactArgs(2),
		Example: "  chatstore voices rename aria nova",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				v, err := s.dir.UpdateVoice(ctx, args[0], store.VoiceUpdate{NewVoice: &args[1]})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", args[0], v.Voice)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a voice and clear it on its characters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				if err := s.dir.DeleteVoice(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	voiceRoot.AddCommand(list, create, rename, del)
	return voiceRoot
}

func newConversationsCommand(flags *globalFlags) *cobra.Command {
	convRoot := &cobra.Command{
		Use:   "conversations",
		Short: "Manage conversations",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:     "list",
		Short:   "List conversations, most recently updated first",
		Example: "  chatstore conversations list --limit 10",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				convs, err := s.dir.Conversations(ctx, limit, offset)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tCHARACTERS\tUPDATED")
				for _, c := range convs {
					title := ""
					if c.Title != nil {
						title = *c.Title
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ConversationID, title, len(c.ActiveCharacters), c.UpdatedAt)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 = all)")
	list.Flags().IntVar(&offset, "offset", 0, "Rows to skip")

	convRoot.AddCommand(list, &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				if err := s.dir.DeleteConversation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	})
	return convRoot
}

func newMessagesCommand(flags *globalFlags) *cobra.Command {
	msgRoot := &cobra.Command{
		Use:   "messages",
		Short: "Read messages",
	}

	var n int
	tail := &cobra.Command{
		Use:     "tail <conversation-id>",
		Short:   "Show the most recent messages, oldest first",
		Args:    cobra.ExactArgs(1),
		Example: "  chatstore messages tail 5f0c... -n 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				if _, err := s.dir.Conversation(ctx, args[0]); err != nil {
					return err
				}
				msgs, err := s.dir.RecentMessages(ctx, args[0], n)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					speaker := m.Role
					if m.Name != nil && *m.Name != "" {
						speaker = *m.Name
					}
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.CreatedAt, speaker, m.Content)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "Number of messages")

	msgRoot.AddCommand(tail)
	return msgRoot
}

func newSeedCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "seed <file.yaml>",
		Short:   "Create voices and characters from a YAML file",
		Args:    cobra.ExactArgs(1),
		Example: "  chatstore seed cast.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				res, err := seed.Apply(ctx, s.dir, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Voices: %d created, %d skipped\n", res.VoicesCreated, res.VoicesSkipped)
				fmt.Fprintf(cmd.OutOrStdout(), "Characters: %d created, %d skipped\n", len(res.CharactersCreated), res.CharactersSkipped)
				return nil
			})
		},
	}
}

func newRefreshCommand(flags *globalFlags) *cobra.Command {
	var cronExpr string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the character and voice caches from the database",
		Long:  "Reload the caches once, or keep reloading on a cron schedule until interrupted.",
		Example: strings.Join([]string{
			"  chatstore refresh",
			"  chatstore refresh --cron '*/5 * * * *'",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				if err := s.dir.Refresh(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cache refreshed")

				expr := cronExpr
				if expr == "" {
					expr = s.cfg.Storage.RefreshCron
				}
				if expr == "" {
					return nil
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				fmt.Fprintf(cmd.OutOrStdout(), "Refreshing on %q, press Ctrl+C to stop\n", expr)
				if err := s.dir.RunRefreshSchedule(ctx, expr); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (defaults to storage.refresh_cron)")
	return cmd
}

func newMetricsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Warm the cache and print counters in Prometheus format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				s.dir.WriteMetrics(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  chatstore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
