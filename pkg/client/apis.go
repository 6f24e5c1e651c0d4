package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/netscale/pkg/config"
	"github.com/charlie0129/netscale/pkg/types"
)

func getJSON[T any](c *Client, path, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func (c *Client) GetWeight() (*types.WeightInfo, error) {
	w, err := getJSON[types.WeightInfo](c, "/weight", "weight")
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) GetTare() (float64, error) {
	return getJSON[float64](c, "/tare", "tare")
}

// SetTare replaces the tare offset.
func (c *Client) SetTare(t float64) (string, error) {
	return c.Put("/tare", strconv.FormatFloat(t, 'f', -1, 64))
}

// Tare adds the reported weight to the tare offset and returns the new
// offset.
func (c *Client) Tare() (float64, error) {
	ret, err := c.Post("/tare", "")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to tare")
	}
	var t float64
	if err := json.Unmarshal([]byte(ret), &t); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal tare")
	}
	return t, nil
}

// SimulateWeight puts a load on a simulated load cell.
func (c *Client) SimulateWeight(w float64) (string, error) {
	return c.Put("/simulate", strconv.FormatFloat(w, 'f', -1, 64))
}

func (c *Client) Zero() (string, error) {
	return c.Post("/zero", "")
}

func (c *Client) GetClients() ([]types.ClientInfo, error) {
	return getJSON[[]types.ClientInfo](c, "/clients", "clients")
}

func (c *Client) GetStats() (*types.Stats, error) {
	s, err := getJSON[types.Stats](c, "/stats", "stats")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, "/config", "config")
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	return getJSON[string](c, "/version", "version")
}
