package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/KromaEnergia/contract-engine/internal/utils/db"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.GetDB()
		if err != nil {
			return err
		}
		return db.AutoMigrate(gdb)
	},
}

var (
	tenantName      string
	tenantCurrency  string
	tenantRetention string

	tenantCmd = &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	tenantCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and print its id",
		RunE:  runTenantCreate,
	}
)

var (
	tokenUser   string
	tokenTenant string
	tokenRoles  string
	tokenTTL    time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE:  runToken,
	}
)

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantName, "name", "", "tenant name")
	tenantCreateCmd.Flags().StringVar(&tenantCurrency, "currency", "USD", "default currency")
	tenantCreateCmd.Flags().StringVar(&tenantRetention, "retention", "", "default retention percent")
	_ = tenantCreateCmd.MarkFlagRequired("name")
	tenantCmd.AddCommand(tenantCreateCmd)

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id")
	tokenCmd.Flags().StringVar(&tokenRoles, "roles", "", "comma separated roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.AccessTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	t := &project.Tenant{Name: tenantName, DefaultCurrency: tenantCurrency}
	if tenantRetention != "" {
		pct, err := decimal.NewFromString(tenantRetention)
		if err != nil {
			return fmt.Errorf("--retention: %w", err)
		}
		t.DefaultRetentionPercent = decimal.NullDecimal{Decimal: pct, Valid: true}
	}
	gdb, err := db.GetDB()
	if err != nil {
		return err
	}
	repo := project.NewRepository(platform.Deps{Store: store.New(gdb, store.Options{})})
	if err := repo.CreateTenant(context.Background(), t); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.ID)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	keys, err := auth.LoadKeys(cfg.Auth)
	if err != nil {
		return err
	}
	var roles []string
	if tokenRoles != "" {
		roles = strings.Split(tokenRoles, ",")
	}
	raw, err := keys.Issue(tenancy.ActingUser{ID: tokenUser, TenantID: tokenTenant, Roles: roles}, time.Now(), tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}
