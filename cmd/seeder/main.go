// cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/outreach-scheduler/internal/app"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// Fixture is the seed file layout.
type Fixture struct {
	Tenants []TenantFixture `yaml:"tenants"`
}

type TenantFixture struct {
	ID        string            `yaml:"id"`
	Leads     []LeadFixture     `yaml:"leads"`
	Campaigns []CampaignFixture `yaml:"campaigns"`
}

type LeadFixture struct {
	Key        string `yaml:"key"`
	model.Lead `yaml:",inline"`
}

type CampaignFixture struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Activate    bool         `yaml:"activate"`
	Leads       []string     `yaml:"leads"`
	Steps       []model.Step `yaml:"steps"`
}

var seedFile string

var rootCmd = &cobra.Command{
	Use:          "seeder",
	Short:        "Load demo tenants, leads and campaigns",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fx, err := loadFixture(seedFile)
		if err != nil {
			return err
		}

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		return seed(cmd.Context(), a, fx, logger)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&seedFile, "file", "f", "seed/demo.yaml", "Seed fixture to load")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadFixture(path string) (*Fixture, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(content, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &fx, nil
}

func seed(ctx context.Context, a *app.App, fx *Fixture, logger *zap.Logger) error {
	for _, tenant := range fx.Tenants {
		leadIDs := map[string]int64{}
		for _, lf := range tenant.Leads {
			lead := lf.Lead
			lead.TenantID = tenant.ID
			if err := a.Leads.Create(ctx, &lead); err != nil {
				return fmt.Errorf("tenant %s lead %s: %w", tenant.ID, lf.Key, err)
			}
			leadIDs[lf.Key] = lead.ID
		}

		for _, cf := range tenant.Campaigns {
			c, err := a.Service.CreateCampaign(ctx, tenant.ID, cf.Name, cf.Description, cf.Steps)
			if err != nil {
				return fmt.Errorf("tenant %s campaign %q: %w", tenant.ID, cf.Name, err)
			}

			ids := make([]int64, 0, len(cf.Leads))
			for _, key := range cf.Leads {
				id, ok := leadIDs[key]
				if !ok {
					return fmt.Errorf("campaign %q references unknown lead %q", cf.Name, key)
				}
				ids = append(ids, id)
			}
			if len(ids) > 0 {
				if _, err := a.Service.AddLeads(ctx, tenant.ID, c.ID, ids); err != nil {
					return err
				}
			}
			if cf.Activate {
				if err := a.Service.Activate(ctx, tenant.ID, c.ID); err != nil {
					return err
				}
			}
			logger.Info("seeded campaign",
				zap.String("tenant_id", tenant.ID), zap.Int64("campaign_id", c.ID), zap.Bool("active", cf.Activate))
		}
	}

	fmt.Println("Database seeding completed successfully!")
	return nil
}
