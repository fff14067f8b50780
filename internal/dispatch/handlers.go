package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grimhollow/internal/auth"
	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
	"grimhollow/internal/store"
)

const defaultRankingLimit = 10

func (d *Dispatcher) handleSignup(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.SignupPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if p.Account == "" || p.Password == "" || p.Character == "" {
		return protocol.FlagGeneralError, nil, errors.New("signup: missing required fields")
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return protocol.FlagGeneralError, nil, fmt.Errorf("hash password: %w", err)
	}
	flag, err := d.store.CreateAccount(ctx, store.PlayerRecord{
		Account:      p.Account,
		Character:    p.Character,
		PasswordHash: hash,
		Gold:         startingGold,
		Level:        1,
	})
	if err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if flag == protocol.FlagOk {
		d.log.Info().Str("account", p.Account).Str("character", p.Character).Msg("account created")
	}
	return flag, nil, nil
}

// startingGold seeds every new character's purse.
const startingGold = 100

func (d *Dispatcher) handleLogin(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.LoginPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}

	rec, err := d.store.AccountByName(ctx, p.Account)
	if errors.Is(err, store.ErrNotFound) {
		// Indistinguishable from a wrong password on purpose.
		return protocol.FlagAccountPasswordMismatch, nil, nil
	}
	if err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if !auth.CheckPassword(rec.PasswordHash, p.Password) {
		return protocol.FlagAccountPasswordMismatch, nil, nil
	}
	if d.presence.Online(rec.Character) {
		return protocol.FlagCharacterAlreadyOnline, nil, nil
	}

	token, err := d.tokens.Generate(rec.Account, rec.Character)
	if err != nil {
		return protocol.FlagGeneralError, nil, fmt.Errorf("generate token: %w", err)
	}
	d.presence.Touch(ctx, rec.Character)
	d.log.Info().Str("character", rec.Character).Msg("login")

	return protocol.FlagOk, protocol.LoginResult{
		Character: rec.Character,
		Token:     token,
		Gold:      rec.Gold,
		Level:     rec.Level,
	}, nil
}

func (d *Dispatcher) handleSave(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.SavePayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if err := d.store.SavePlayer(ctx, store.PlayerRecord{
		Character:  p.Character,
		Gold:       p.Gold,
		Level:      p.Level,
		Experience: p.Experience,
	}); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	d.presence.Touch(ctx, p.Character)
	return protocol.FlagOk, nil, nil
}

func (d *Dispatcher) handleRanking(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.RankingPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultRankingLimit
	}
	entries, err := d.store.TopRanking(ctx, limit)
	if err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if p.Character != "" {
		d.presence.Touch(ctx, p.Character)
	}
	return protocol.FlagOk, protocol.RankingResult{Entries: entries}, nil
}

func (d *Dispatcher) handleMarket(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.MarketPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if p.Character != "" {
		d.presence.Touch(ctx, p.Character)
	}

	flag, payload, err := d.handleMarketAction(ctx, p)
	if err == nil {
		d.countMarket(p.Action, flag)
	}
	return flag, payload, err
}

func (d *Dispatcher) handleMarketAction(ctx context.Context, p protocol.MarketPayload) (protocol.Flag, any, error) {
	switch p.Action {
	case protocol.ActionRetrieveItems:
		items, err := d.store.ActiveListings(ctx, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		if len(items) == 0 {
			return protocol.FlagEmptyMarket, protocol.MarketPayload{Action: p.Action}, nil
		}
		return protocol.FlagOk, protocol.MarketPayload{Action: p.Action, Items: items}, nil

	case protocol.ActionShowListings:
		items, err := d.store.ListingsBySeller(ctx, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		if len(items) == 0 {
			return protocol.FlagNoItemsSoldByPlayer, protocol.MarketPayload{Action: p.Action}, nil
		}
		return protocol.FlagOk, protocol.MarketPayload{Action: p.Action, Items: items}, nil

	case protocol.ActionBuyItem:
		if p.Item == nil {
			return protocol.FlagGeneralError, nil, errors.New("buyItem: missing item")
		}
		flag, err := d.store.BuyListing(ctx, p.Item.MID, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		item := *p.Item
		if flag == protocol.FlagOk {
			item.Sold = true
			d.publishEvent(protocol.ActionBuyItem, item)
		}
		return flag, protocol.MarketPayload{Action: p.Action, Item: &item}, nil

	case protocol.ActionRegisterItem:
		if p.Item == nil {
			return protocol.FlagGeneralError, nil, errors.New("registerItem: missing item")
		}
		if p.Item.Price <= 0 {
			return protocol.FlagGeneralError, nil, fmt.Errorf("registerItem: invalid price %d", p.Item.Price)
		}
		item := *p.Item
		origin := item.Origin // echoed back so the client knows which slot to clear
		flag, err := d.store.RegisterListing(ctx, &item)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		if flag == protocol.FlagOk {
			d.publishEvent(protocol.ActionRegisterItem, item)
		}
		item.Origin = origin
		return flag, protocol.MarketPayload{Action: p.Action, Item: &item}, nil

	case protocol.ActionRemoveItem:
		if p.Item == nil {
			return protocol.FlagGeneralError, nil, errors.New("removeItem: missing item")
		}
		flag, err := d.store.RemoveListing(ctx, p.Item.MID, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		if flag == protocol.FlagOk {
			d.publishEvent(protocol.ActionRemoveItem, *p.Item)
		}
		return flag, protocol.MarketPayload{Action: p.Action, Item: p.Item}, nil

	case protocol.ActionCollect:
		if p.Item == nil {
			return protocol.FlagGeneralError, nil, errors.New("collect: missing item")
		}
		flag, err := d.store.CollectListing(ctx, p.Item.MID, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		if flag == protocol.FlagOk {
			d.publishEvent(protocol.ActionCollect, *p.Item)
		}
		return flag, protocol.MarketPayload{Action: p.Action, Item: p.Item}, nil

	default:
		return protocol.FlagGeneralError, nil, fmt.Errorf("unknown market action %q", p.Action)
	}
}

func (d *Dispatcher) publishEvent(action protocol.MarketAction, item game.MarketItem) {
	if d.feed == nil {
		return
	}
	item.Origin = nil
	d.feed.PublishMarketEvent(protocol.MarketEvent{
		Action: action,
		Item:   item,
		At:     time.Now().UnixMilli(),
	})
	if d.metrics != nil {
		d.metrics.Market.FeedEvents.Inc()
	}
}

func (d *Dispatcher) handleAck(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.AckPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if p.Character != "" {
		d.presence.Touch(ctx, p.Character)
	}
	return protocol.FlagOk, protocol.AckResult{ServerTime: time.Now().UnixMilli()}, nil
}

func (d *Dispatcher) handleLogoff(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.LogoffPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	d.presence.Remove(ctx, p.Character)
	d.log.Info().Str("character", p.Character).Msg("logoff")
	return protocol.FlagOk, nil, nil
}

func (d *Dispatcher) handleMission(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.MissionPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if p.Character != "" {
		d.presence.Touch(ctx, p.Character)
	}

	switch p.Action {
	case protocol.ActionRetrieveMissions:
		missions, err := d.store.Missions(ctx, p.Character)
		if err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		return protocol.FlagOk, protocol.MissionPayload{Action: p.Action, Missions: missions}, nil
	case protocol.ActionSaveMission:
		if p.Mission == nil {
			return protocol.FlagGeneralError, nil, errors.New("saveMission: missing mission")
		}
		if err := d.store.SaveMission(ctx, p.Character, *p.Mission); err != nil {
			return protocol.FlagGeneralError, nil, err
		}
		return protocol.FlagOk, nil, nil
	default:
		return protocol.FlagGeneralError, nil, fmt.Errorf("unknown mission action %q", p.Action)
	}
}

func (d *Dispatcher) handleSensor(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error) {
	var p protocol.SensorPayload
	if err := env.DecodePayload(&p); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	if err := d.store.AppendSensorReadings(ctx, p.Character, p.Readings); err != nil {
		return protocol.FlagGeneralError, nil, err
	}
	return protocol.FlagOk, nil, nil
}
