// Package protocol defines the logical wire contract between the Grimhollow
// client and server: the envelope, the closed kind/action enumerations and
// the result-flag taxonomy. Framing is the transport's concern; an envelope
// is serialized as a single JSON document.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the message family an envelope belongs to. The set is
// wire-stable; adding a kind is a protocol revision.
type Kind string

const (
	KindSignup      Kind = "signup"
	KindSave        Kind = "save"
	KindLogin       Kind = "login"
	KindRanking     Kind = "ranking"
	KindMarket      Kind = "market"
	KindAck         Kind = "ack"
	KindLogoff      Kind = "logoff"
	KindMissionData Kind = "missionData"
	KindSensor      Kind = "sensor"
)

// Valid reports whether k is one of the known wire kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSignup, KindSave, KindLogin, KindRanking, KindMarket,
		KindAck, KindLogoff, KindMissionData, KindSensor:
		return true
	}
	return false
}

// MarketAction selects the sub-handler for Market envelopes.
type MarketAction string

const (
	ActionRetrieveItems MarketAction = "retrieveItems"
	ActionBuyItem       MarketAction = "buyItem"
	ActionRegisterItem  MarketAction = "registerItem"
	ActionRemoveItem    MarketAction = "removeItem"
	ActionShowListings  MarketAction = "showListings"
	ActionCollect       MarketAction = "collect"
)

// MissionAction selects the sub-handler for MissionData envelopes.
type MissionAction string

const (
	ActionRetrieveMissions MissionAction = "retrieveMissions"
	ActionSaveMission      MissionAction = "saveMission"
)

// Flag is the result of a server-side operation. Requests carry no flag;
// every response carries exactly one.
type Flag string

const (
	FlagOk                      Flag = "ok"
	FlagGeneralError            Flag = "generalError"
	FlagAccountTaken            Flag = "accountTaken"
	FlagCharacterNameTaken      Flag = "characterNameTaken"
	FlagAccountPasswordMismatch Flag = "accountPasswordMismatch"
	FlagCharacterAlreadyOnline  Flag = "characterAlreadyOnline"
	FlagEmptyMarket             Flag = "emptyMarket"
	FlagItemAlreadyBought       Flag = "itemAlreadyBought"
	FlagItemAlreadySold         Flag = "itemAlreadySold"
	FlagNoItemsSoldByPlayer     Flag = "noItemsSoldByPlayer"
	FlagItemAlreadyCollected    Flag = "itemAlreadyCollected"
)

// ListenerKey names the client-side component that must receive the matching
// response. Every request carries one; the client registers it on its router
// before sending.
type ListenerKey string

// ListenerMarketFeed is the well-known key the server broadcasts market
// events under. Clients opt in by subscribing it; nobody is required to.
const ListenerMarketFeed ListenerKey = "market.feed"

// Envelope is the unit exchanged between client and server.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	Flag     Flag            `json:"flag,omitempty"`
	Listener ListenerKey     `json:"listener"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IsResponse reports whether the envelope carries a result flag.
func (e Envelope) IsResponse() bool { return e.Flag != "" }

// NewRequest builds a request envelope with the payload marshalled in place.
func NewRequest(kind Kind, listener ListenerKey, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, Listener: listener}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Respond builds the response to e: same kind, same listener key, the given
// flag and payload. A failed payload marshal degrades to a bare GeneralError
// response so the requester is never left without an answer.
func (e Envelope) Respond(flag Flag, payload any) Envelope {
	resp := Envelope{Kind: e.Kind, Flag: flag, Listener: e.Listener}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			resp.Flag = FlagGeneralError
			return resp
		}
		resp.Payload = data
	}
	return resp
}

// Encode serializes the envelope for the transport.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope off the wire and validates its kind.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return env, nil
}

// DecodePayload unmarshals the kind-specific body into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
