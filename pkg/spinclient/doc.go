// Package spinclient provides a client for the provider game API and the
// helpers an operator needs to answer its wallet callbacks.
//
// # Requests
//
// Every request is a form-encoded POST to a single endpoint carrying
// api_login, api_password and method, plus method fields. Responses are
// returned as raw body text; use HasError to classify them.
//
//	client, err := spinclient.NewClient(spinclient.Config{
//	    Endpoint:    "https://api.provider.example/api",
//	    APILogin:    "operator",
//	    APIPassword: "secret",
//	})
//
//	body, err := client.GetGame(ctx, &spinclient.GameRequest{
//	    Username:   "player1",
//	    Password:   "player-secret",
//	    GameID:     "1234",
//	    Currency:   "usd", // sent as USD
//	    PlayForFun: 0,
//	    Lang:       "en",
//	})
//
// # Callbacks
//
// The provider signs callbacks with key = md5(timestamp + salt). The digest
// is fixed by the provider and kept for compatibility:
//
//	if !spinclient.IsValidSignature(key, timestamp, salt) {
//	    spinclient.WriteEnvelope(w, spinclient.ProcessingErrorEnvelope(0))
//	    return
//	}
//	spinclient.WriteEnvelope(w, spinclient.SuccessEnvelope(balance))
//
// # Money
//
// Balances travel as integer minor units. MinorUnitsToDecimal and
// DecimalToMinorUnits convert to and from decimal strings, truncating
// (never rounding) to the requested precision.
package spinclient
