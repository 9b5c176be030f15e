// Package di wires the propagation pipeline: config file in, running
// processor out. Each provider is lazy; nothing connects to Postgres or
// the authorization server until first invoked.
package di

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/capturer"
	"github.com/collabforge/authsync/config"
	"github.com/collabforge/authsync/outbox"
	"github.com/collabforge/authsync/pkg/log"
)

func SetupContainer(cfgPath string) do.Injector {
	injector := do.New()

	do.ProvideNamedValue(injector, "configPath", cfgPath)
	do.Provide(injector, NewConfig)
	do.Provide(injector, NewCapturer)
	do.Provide(injector, NewPool)
	do.Provide(injector, NewEngine)
	do.Provide(injector, NewAuthzClient)
	do.Provide(injector, NewConsumer)
	do.Provide(injector, NewStream)
	do.Provide(injector, NewProcessor)

	return injector
}

func NewConfig(i do.Injector) (*config.Config, error) {
	cfg, err := config.LoadFromFile(do.MustInvokeNamed[string](i, "configPath"))
	if err != nil {
		return nil, err
	}
	log.SetLevelFromString(cfg.LogLevel)
	return cfg, nil
}

func NewCapturer(i do.Injector) (capturer.Capturer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return capturer.NewPostgresCapturer(capturer.Config{
		Database:              capturer.DatabaseConfig(cfg.Database),
		SlotName:              cfg.Replication.SlotName,
		PublicationName:       cfg.Replication.PublicationName,
		Tables:                []string{cfg.Outbox.Schema + "." + cfg.Outbox.Table},
		CreateSlotIfMissing:   cfg.Replication.CreateSlotIfMissing,
		CreatePubIfMissing:    cfg.Replication.CreatePubIfMissing,
		DropSlotOnStop:        cfg.Replication.DropSlotOnStop,
		DropPublicationOnStop: cfg.Replication.DropPublicationOnStop,
		TransactionBufferSize: cfg.Replication.TransactionBufferSize,
	}, log.NewLogger("capturer", os.Stdout)), nil
}

func NewPool(i do.Injector) (*pgxpool.Pool, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return pgxpool.New(context.Background(), cfg.Database.ConnString())
}

func NewEngine(i do.Injector) (authz.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return authz.NewFGAEngine(authz.FGAConfig{
		APIURL:  cfg.FGA.APIURL,
		StoreID: cfg.FGA.StoreID,
		ModelID: cfg.FGA.ModelID,
	})
}

func NewAuthzClient(i do.Injector) (*authz.Client, error) {
	return authz.NewClient(do.MustInvoke[authz.Engine](i)), nil
}

func NewConsumer(i do.Injector) (*outbox.Consumer, error) {
	client := do.MustInvoke[*authz.Client](i)
	return outbox.NewConsumer(client, log.NewLogger("consumer", os.Stdout)), nil
}

func NewStream(i do.Injector) (*outbox.Stream, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return outbox.NewStream(cfg.Outbox.Schema, cfg.Outbox.Table), nil
}

func NewProcessor(i do.Injector) (*outbox.Processor, error) {
	return outbox.NewProcessor(
		do.MustInvoke[capturer.Capturer](i),
		do.MustInvoke[*outbox.Stream](i),
		do.MustInvoke[*outbox.Consumer](i),
		do.MustInvoke[*pgxpool.Pool](i),
		log.NewLogger("processor", os.Stdout),
	), nil
}
