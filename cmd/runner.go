package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/services"
	"github.com/aminsaedi/navaar/internal/shared"
	"github.com/aminsaedi/navaar/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, runCommand, syncCommand, tracksCommand, retryCommand, statsCommand, logsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the effective config for a command: the --config flag
// when the file exists, the config loaded at startup otherwise.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	path := cmd.String("config")
	if path == "" {
		return r.config
	}
	if _, err := os.Stat(path); err != nil {
		return r.config
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		r.logger.Warn("failed to load config, using defaults", "path", path, "error", err)
		return r.config
	}
	return config
}

// stack is the full set of wired collaborators a sync process needs.
type stack struct {
	db      *sql.DB
	tracks  *repositories.TrackRepository
	state   *repositories.SyncStateRepository
	logbook *repositories.SyncLogRepository
	sink    *metrics.Sink
	engine  *tasks.Engine
}

func (s *stack) Close() error {
	return s.db.Close()
}

// buildStack opens the database, constructs the service clients for every
// configured credential set and assembles the direction procedures and engine.
// Spotify-touching directions are only wired when Spotify is configured.
func (r *Runner) buildStack(ctx context.Context, config *shared.Config) (*stack, error) {
	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	tracks := repositories.NewTrackRepository(db)
	state := repositories.NewSyncStateRepository(db)
	logbook := repositories.NewSyncLogRepository(db)
	sink := metrics.NewSink()

	telegram, err := services.NewTelegramService(config.Credentials.Telegram.BotToken, config.Credentials.Telegram.ChannelID)
	if err != nil {
		db.Close()
		return nil, err
	}
	ytmusic := services.NewYTMusicService(
		config.Credentials.YTMusic.ProxyURL,
		config.Credentials.YTMusic.AuthFile,
		config.Credentials.YTMusic.PlaylistID,
	)

	var spotify *services.SpotifyService
	if config.SpotifyEnabled() {
		spotify, err = services.NewSpotifyService(ctx, services.SpotifyOpts{
			ClientID:     config.Credentials.Spotify.ClientID,
			ClientSecret: config.Credentials.Spotify.ClientSecret,
			RefreshToken: config.Credentials.Spotify.RefreshToken,
			RedirectURI:  config.Credentials.Spotify.RedirectURI,
			PlaylistID:   config.Credentials.Spotify.PlaylistID,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		r.logger.Info("spotify not configured, running telegram <-> youtube music only")
	}

	directions := []models.Direction{models.TgToYt, models.YtToTg}
	if spotify != nil {
		directions = append(directions,
			models.TgToSp, models.SpToYt, models.YtToSp, models.SpToTg)
	}

	fanout := tasks.NewFanOut(directions, tracks, logbook, sink, r.logger, config.Sync.MaxRetries)

	push := func(d models.Direction, source services.Downloader, target services.Adapter) tasks.DirectionConfig {
		return tasks.DirectionConfig{
			Direction: d,
			Shape:     tasks.ShapePush,
			Interval:  r.interval(config, d),
			Procedure: tasks.NewPushProcedure(tasks.PushOpts{
				Direction: d,
				Tracks:    tracks,
				Logbook:   logbook,
				Source:    source,
				Target:    target,
				FanOut:    fanout,
				Sink:      sink,
				Logger:    r.logger,
				BatchSize: config.Sync.BatchSize,
			}),
		}
	}
	pull := func(d models.Direction, source services.Lister, resolver services.PayloadResolver, target services.Uploader) tasks.DirectionConfig {
		return tasks.DirectionConfig{
			Direction: d,
			Shape:     tasks.ShapePull,
			Interval:  r.interval(config, d),
			Procedure: tasks.NewPullProcedure(tasks.PullOpts{
				Direction:  d,
				Tracks:     tracks,
				State:      state,
				Logbook:    logbook,
				Source:     source,
				Resolver:   resolver,
				Target:     target,
				FanOut:     fanout,
				Sink:       sink,
				Logger:     r.logger,
				MaxRetries: config.Sync.MaxRetries,
			}),
		}
	}

	configs := []tasks.DirectionConfig{
		push(models.TgToYt, telegram, ytmusic),
		pull(models.YtToTg, ytmusic,
			&services.DirectResolver{Source: ytmusic, Service: models.ServiceYTMusic}, telegram),
	}
	if spotify != nil {
		configs = append(configs,
			push(models.TgToSp, telegram, spotify),
			push(models.SpToYt, nil, ytmusic),
			push(models.YtToSp, ytmusic, spotify),
			// Spotify exposes no audio download; resolve through the YouTube
			// Music catalog instead.
			pull(models.SpToTg, spotify,
				&services.SearchResolver{Catalog: ytmusic, Source: ytmusic}, telegram),
		)
	}

	engine, err := tasks.NewEngine(configs, state, sink, r.logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &stack{
		db:      db,
		tracks:  tracks,
		state:   state,
		logbook: logbook,
		sink:    sink,
		engine:  engine,
	}, nil
}

// interval resolves a direction's cycle interval from config, in seconds.
func (r *Runner) interval(config *shared.Config, d models.Direction) time.Duration {
	if secs, ok := config.Sync.Intervals[string(d)]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 5 * time.Minute
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
