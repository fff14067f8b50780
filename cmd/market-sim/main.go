// market-sim is a headless client that exercises a running Grimhollow
// server: it signs up, logs in, heartbeats, and trades on the market. Used
// for smoke testing and load generation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
	"grimhollow/pkg/client"
)

type simConfig struct {
	ServerURL       string        `env:"SIM_SERVER_URL" envDefault:"ws://127.0.0.1:8090/ws"`
	Account         string        `env:"SIM_ACCOUNT" envDefault:"sim"`
	Password        string        `env:"SIM_PASSWORD" envDefault:"sim-password"`
	Character       string        `env:"SIM_CHARACTER" envDefault:"Simulacrum"`
	HeartbeatEvery  time.Duration `env:"SIM_HEARTBEAT_EVERY" envDefault:"5s"`
	MarketEvery     time.Duration `env:"SIM_MARKET_EVERY" envDefault:"8s"`
	ResponseTimeout time.Duration `env:"SIM_RESPONSE_TIMEOUT" envDefault:"10s"`
}

func main() {
	_ = godotenv.Load()

	var cfg simConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse env: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "market-sim").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}
}

func run(ctx context.Context, cfg simConfig, log zerolog.Logger) error {
	router := client.NewRouter(log)
	conn, err := client.Dial(ctx, cfg.ServerURL, router, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Signup is idempotent for our purposes: accountTaken means a previous
	// run already created it.
	signupResp, err := roundTrip(router, conn, protocol.KindSignup, protocol.SignupPayload{
		Account:   cfg.Account,
		Password:  cfg.Password,
		Character: cfg.Character,
	}, cfg.ResponseTimeout)
	if err != nil {
		return err
	}
	if signupResp.Flag != protocol.FlagOk && signupResp.Flag != protocol.FlagAccountTaken {
		return fmt.Errorf("signup rejected: %s", signupResp.Flag)
	}

	loginResp, err := roundTrip(router, conn, protocol.KindLogin, protocol.LoginPayload{
		Account:  cfg.Account,
		Password: cfg.Password,
	}, cfg.ResponseTimeout)
	if err != nil {
		return err
	}
	if loginResp.Flag != protocol.FlagOk {
		return fmt.Errorf("login rejected: %s", loginResp.Flag)
	}
	var login protocol.LoginResult
	if err := loginResp.DecodePayload(&login); err != nil {
		return err
	}
	log.Info().Str("character", login.Character).Int64("gold", login.Gold).Msg("logged in")

	player := &game.PlayerState{
		Character: login.Character,
		Gold:      login.Gold,
		Level:     login.Level,
		Inventory: game.NewInventory(2),
	}
	notify := client.NotifierFunc(func(msg string, _ time.Duration) {
		log.Info().Str("notice", msg).Msg("market")
	})
	engine := client.NewEngine(conn, router, player, notify, log)
	defer engine.Close()

	heartbeat := time.NewTicker(cfg.HeartbeatEvery)
	defer heartbeat.Stop()
	market := time.NewTicker(cfg.MarketEvery)
	defer market.Stop()

	for {
		select {
		case <-ctx.Done():
			logoff(router, conn, login.Character, cfg.ResponseTimeout, log)
			return nil

		case <-heartbeat.C:
			env, err := protocol.NewRequest(protocol.KindAck,
				protocol.ListenerKey("ack."+uuid.NewString()),
				protocol.AckPayload{Character: login.Character, SentAt: time.Now().UnixMilli()})
			if err != nil {
				return err
			}
			if err := conn.Send(env); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

		case <-market.C:
			tradeOnce(engine, player, log)
		}
	}
}

// tradeOnce drives one market interaction: refresh, then buy the cheapest
// affordable listing if any is cached from the previous refresh.
func tradeOnce(engine *client.Engine, player *game.PlayerState, log zerolog.Logger) {
	items := engine.MarketItems()
	var pick *game.MarketItem
	for i := range items {
		if items[i].Price <= player.Gold && (pick == nil || items[i].Price < pick.Price) {
			pick = &items[i]
		}
	}
	if pick != nil {
		if err := engine.Buy(*pick); err != nil && err != client.ErrBusy {
			log.Warn().Err(err).Msg("buy failed")
		}
		return
	}
	if err := engine.RefreshMarket(); err != nil && err != client.ErrBusy {
		log.Warn().Err(err).Msg("refresh failed")
	}
}

func logoff(router *client.Router, conn *client.Conn, character string, timeout time.Duration, log zerolog.Logger) {
	if _, err := roundTrip(router, conn, protocol.KindLogoff,
		protocol.LogoffPayload{Character: character}, timeout); err != nil {
		log.Warn().Err(err).Msg("logoff failed")
	}
}

// roundTrip registers a one-shot listener, sends the request and waits for
// its response.
func roundTrip(router *client.Router, conn *client.Conn, kind protocol.Kind, payload any, timeout time.Duration) (protocol.Envelope, error) {
	key := protocol.ListenerKey(string(kind) + "." + uuid.NewString())
	ch := make(chan protocol.Envelope, 1)
	router.Subscribe(key, client.HandlerFunc(func(env protocol.Envelope) {
		select {
		case ch <- env:
		default:
		}
	}))
	defer router.Unsubscribe(key)

	env, err := protocol.NewRequest(kind, key, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if err := conn.Send(env); err != nil {
		return protocol.Envelope{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return protocol.Envelope{}, fmt.Errorf("timeout waiting for %s response", kind)
	}
}
