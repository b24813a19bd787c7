package vapix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
)

const (
	paramPath         = "/axis-cgi/param.cgi"
	adminParamPath    = "/axis-cgi/admin/param.cgi"
	networkPath       = "/axis-cgi/network_settings.cgi"
	networkAPIVersion = "1.0"
)

// SetParameter updates one parameter through param.cgi. A parameter the
// firmware does not have is reported as success, since there is nothing to
// change.
func (c *Client) SetParameter(ctx context.Context, target device.Target, admin device.Credentials, name, value string) device.Result {
	q := url.Values{}
	q.Set("action", "update")
	q.Set(name, value)

	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: paramPath, query: q, creds: &admin})
	if err != nil {
		return device.ResultFromError(err, "")
	}
	if err := statusError(resp, "set "+name); err != nil {
		return device.ResultFromError(err, "")
	}

	body := resp.text()
	switch {
	case strings.Contains(body, "No such parameter") || strings.Contains(strings.ToLower(body), "not found"):
		return device.OK("%s not applicable on this firmware", name)
	case strings.HasPrefix(body, "# Error") || strings.HasPrefix(strings.ToLower(body), "error"):
		return device.Failed("set %s=%s: %s", name, value, snippet(body))
	}
	return device.OK("%s set to %s", name, value)
}

type networkRequest struct {
	APIVersion string        `json:"apiVersion"`
	Context    string        `json:"context,omitempty"`
	Method     string        `json:"method"`
	Params     networkParams `json:"params"`
}

type networkParams struct {
	DeviceName                  string          `json:"deviceName"`
	ConfigurationMode           string          `json:"configurationMode"`
	StaticDefaultRouter         string          `json:"staticDefaultRouter,omitempty"`
	StaticAddressConfigurations []staticAddress `json:"staticAddressConfigurations"`
}

type staticAddress struct {
	Address      string `json:"address"`
	PrefixLength int    `json:"prefixLength"`
}

type apiResponse struct {
	APIVersion string          `json:"apiVersion"`
	Method     string          `json:"method"`
	Data       json.RawMessage `json:"data"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SetStaticNetwork applies a static IPv4 address through the JSON network
// settings API. The camera switches address while answering, so a dropped
// connection after the request went out is treated as accepted and left
// for verification to confirm.
func (c *Client) SetStaticNetwork(ctx context.Context, target device.Target, admin device.Credentials, address, mask, gateway netip.Addr) device.Result {
	prefix, err := dhcp.MaskToPrefix(mask)
	if err != nil {
		return device.ResultFromError(device.NewValidationError(err.Error()), "")
	}

	payload := networkRequest{
		APIVersion: networkAPIVersion,
		Context:    target.ID(),
		Method:     "setIPv4AddressConfiguration",
		Params: networkParams{
			DeviceName:        "eth0",
			ConfigurationMode: "static",
			StaticAddressConfigurations: []staticAddress{
				{Address: address.String(), PrefixLength: prefix},
			},
		},
	}
	if gateway.IsValid() {
		payload.Params.StaticDefaultRouter = gateway.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return device.ResultFromError(device.NewParseError("encode network request", err), "")
	}

	resp, err := c.do(ctx, target.Address, request{
		method:      http.MethodPost,
		path:        networkPath,
		body:        body,
		contentType: "application/json",
		creds:       &admin,
	})
	if err != nil {
		if droppedAfterSend(err) {
			return device.OK("static address %s/%d sent, connection dropped during address change", address, prefix)
		}
		return device.ResultFromError(err, "")
	}
	if err := statusError(resp, "set static address"); err != nil {
		return device.ResultFromError(err, "")
	}

	var out apiResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return device.ResultFromError(device.NewParseError("decode network response", err), "")
	}
	if out.Error != nil {
		return device.ResultFromError(device.NewAPIError(fmt.Sprintf("network settings error %d: %s", out.Error.Code, out.Error.Message)), "")
	}
	return device.OK("static address %s/%d applied", address, prefix)
}

// SetStaticNetworkLegacy applies a static address through admin/param.cgi
// on firmware that predates the network settings API.
func (c *Client) SetStaticNetworkLegacy(ctx context.Context, target device.Target, admin device.Credentials, address, mask, gateway netip.Addr) device.Result {
	if _, err := dhcp.MaskToPrefix(mask); err != nil {
		return device.ResultFromError(device.NewValidationError(err.Error()), "")
	}

	q := url.Values{}
	q.Set("action", "update")
	q.Set("Network.Ethernet.IPAddress", address.String())
	q.Set("Network.Ethernet.SubnetMask", mask.String())
	if gateway.IsValid() {
		q.Set("Network.Ethernet.DefaultRouter", gateway.String())
	}
	q.Set("Network.Ethernet.IPAssignment", "static")

	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: adminParamPath, query: q, creds: &admin})
	if err != nil {
		if droppedAfterSend(err) {
			return device.OK("static address %s sent (legacy), connection dropped during address change", address)
		}
		return device.ResultFromError(err, "")
	}
	if err := statusError(resp, "set static address (legacy)"); err != nil {
		return device.ResultFromError(err, "")
	}
	if body := resp.text(); strings.HasPrefix(body, "# Error") {
		return device.Failed("set static address (legacy): %s", snippet(body))
	}
	return device.OK("static address %s applied (legacy)", address)
}

// droppedAfterSend reports whether the connection died after the request
// reached the camera. Refused or unreachable connections never delivered
// the request and do not qualify.
func droppedAfterSend(err error) bool {
	var devErr *device.DeviceError
	if !errors.As(err, &devErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	if devErr.Type == device.ErrTypeTimeout {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
