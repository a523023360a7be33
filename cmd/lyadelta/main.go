package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"

	"github.com/lox/lyadelta/internal/logging"
	"github.com/lox/lyadelta/internal/store"
)

type CLI struct {
	LogLevel string                   `name:"log-level" default:"info" enum:"debug,info,warn,error" env:"LYADELTA_LOG_LEVEL" help:"Log level."`
	EnvFile  kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default=.env,help='Load environment variables from this file.'"`

	Run      RunCmd      `cmd:"" help:"Fit continua and variance functions and extract deltas."`
	Simulate SimulateCmd `cmd:"" help:"Generate synthetic forests into the database."`
	Inspect  InspectCmd  `cmd:"" help:"Print stored forests, runs and diagnostics tables."`
	Plot     PlotCmd     `cmd:"" help:"Render PNG diagnostics of a stored iteration."`
}

// Globals is passed to every command's Run method.
type Globals struct {
	Ctx context.Context
	Log *zap.Logger
}

// DatabaseFlags selects the SQLite database of the read-only commands.
type DatabaseFlags struct {
	DB string `name:"db" default:"data/delta_attributes.db" env:"LYADELTA_DB" help:"Path to SQLite database."`
}

func (f DatabaseFlags) open(log *zap.Logger) (*store.Store, func(), error) {
	db, err := store.Open(f.DB)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, log)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, func() { db.Close() }, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("lyadelta"),
		kong.Description("Lyman-alpha forest delta field extraction."),
		kong.UsageOnError(),
	)

	log, err := logging.New(cli.LogLevel)
	kctx.FatalIfErrorf(err)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kctx.Run(&Globals{Ctx: ctx, Log: log}); err != nil {
		log.Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
		log.Sync()
		cancel()
		os.Exit(1)
	}
}
