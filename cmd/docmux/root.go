package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/multiplex"
	"github.com/jacentio/docmux/store"
)

var (
	configPath string
	awsProfile string
	endpoint   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "docmux",
	Short:        "Mounted document store tools",
	Long:         "docmux combines several DynamoDB document tables into one store using a mount table.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to mount table file (required)")
	rootCmd.PersistentFlags().StringVar(&awsProfile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(streamCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig loads the mount table and builds its provider.
func loadConfig() (*mount.Config, *mount.Provider, error) {
	cfg, err := mount.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	provider, err := cfg.Provider()
	if err != nil {
		return nil, nil, fmt.Errorf("build mount table: %w", err)
	}
	return cfg, provider, nil
}

// newDynamoClient creates a DynamoDB client from the shared AWS config.
func newDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if awsProfile != "" {
		opts = append(opts, config.WithSharedConfigProfile(awsProfile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// loadRouter builds a router with one DynamoDB store per mount.
func loadRouter(ctx context.Context, logger *slog.Logger) (*multiplex.Store, error) {
	cfg, provider, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := newDynamoClient(ctx)
	if err != nil {
		return nil, err
	}

	stores := make(map[string]store.DocumentStore)
	for _, m := range provider.Mounts() {
		storeCfg := store.DefaultConfig()
		storeCfg.Table = cfg.TableFor(m.Name())
		stores[m.Name()] = store.NewDynamo(client, storeCfg)
		logger.Debug("mounted table", "mount", m.Name(), "table", storeCfg.Table, "readOnly", m.IsReadOnly())
	}
	return multiplex.New(provider, stores, multiplex.WithLogger(logger))
}
