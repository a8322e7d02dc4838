package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kinshiphq/kinship/internal/profile"
	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/server"
	"github.com/kinshiphq/kinship/store"
	"github.com/kinshiphq/kinship/store/db"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "kinship",
	Short: "Semantic similarity search service for relationship data",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			DSN:     viper.GetString("dsn"),
			Driver:  viper.GetString("driver"),
			Version: version,
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return fmt.Errorf("failed to create db driver: %w", err)
		}
		st := store.New(dbDriver, instanceProfile)
		defer st.Close()

		// Consent is managed by the upstream privacy service; standalone
		// deployments grant it globally via config.
		consent := aiplugin.StaticConsent(viper.GetBool("consent-granted"))

		srv, err := server.New(ctx, instanceProfile, st, consent)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
			return err
		}
		slog.Info("kinship server shut down")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server: "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "127.0.0.1", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8231, "port of the server")
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver: "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().Bool("consent-granted", true, "grant AI processing consent for all owners (standalone mode)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("kinship")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
