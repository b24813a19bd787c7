package vapix

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/muurk/camstage/internal/device"
)

const basicDeviceInfoPath = "/axis-cgi/basicdeviceinfo.cgi"

var (
	serialPattern = regexp.MustCompile(`SerialNumber=([0-9A-Za-z]+)`)
	macPattern    = regexp.MustCompile(`MACAddress=([0-9A-Fa-f:]+)`)
)

// GetIdentity reads the serial number and MAC address, first through
// param.cgi and then through the basic device info API. Axis serial
// numbers are the MAC address, which fills in a missing MAC.
func (c *Client) GetIdentity(ctx context.Context, target device.Target, admin device.Credentials) (device.Identity, device.Result) {
	id, res := c.identityFromParams(ctx, target, admin)
	if res.Success {
		return id, res
	}

	fallback, fres := c.identityFromBasicDeviceInfo(ctx, target, admin)
	if fres.Success {
		return fallback, fres
	}
	// Prefer the fallback's detail but keep retrying if either was transient.
	fres.Transient = fres.Transient || res.Transient
	return device.Identity{}, fres
}

func (c *Client) identityFromParams(ctx context.Context, target device.Target, admin device.Credentials) (device.Identity, device.Result) {
	q := url.Values{}
	q.Set("action", "list")
	q.Set("group", "Properties.System.SerialNumber,Network.Interface.I0.MACAddress")

	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: paramPath, query: q, creds: &admin})
	if err != nil {
		return device.Identity{}, device.ResultFromError(err, "")
	}
	if err := statusError(resp, "read identity"); err != nil {
		return device.Identity{}, device.ResultFromError(err, "")
	}

	var id device.Identity
	if m := serialPattern.FindStringSubmatch(resp.text()); m != nil {
		id.Serial = m[1]
	}
	if m := macPattern.FindStringSubmatch(resp.text()); m != nil {
		if hwid, err := device.NormalizeHardwareID(m[1]); err == nil {
			id.HardwareID = hwid
		}
	}
	return completeIdentity(id)
}

type propertyList struct {
	PropertyList struct {
		SerialNumber string `json:"SerialNumber"`
		ProdNbr      string `json:"ProdNbr"`
		Version      string `json:"Version"`
	} `json:"propertyList"`
}

func (c *Client) identityFromBasicDeviceInfo(ctx context.Context, target device.Target, admin device.Credentials) (device.Identity, device.Result) {
	body := []byte(`{"apiVersion":"1.0","method":"getAllProperties"}`)
	resp, err := c.do(ctx, target.Address, request{
		method:      http.MethodPost,
		path:        basicDeviceInfoPath,
		body:        body,
		contentType: "application/json",
		creds:       &admin,
	})
	if err != nil {
		return device.Identity{}, device.ResultFromError(err, "")
	}
	if err := statusError(resp, "read basic device info"); err != nil {
		return device.Identity{}, device.ResultFromError(err, "")
	}

	var out apiResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return device.Identity{}, device.ResultFromError(device.NewParseError("decode basic device info", err), "")
	}
	if out.Error != nil {
		return device.Identity{}, device.Failed("basic device info error %d: %s", out.Error.Code, out.Error.Message)
	}

	var props propertyList
	if err := json.Unmarshal(out.Data, &props); err != nil {
		return device.Identity{}, device.ResultFromError(device.NewParseError("decode property list", err), "")
	}
	return completeIdentity(device.Identity{Serial: props.PropertyList.SerialNumber})
}

func completeIdentity(id device.Identity) (device.Identity, device.Result) {
	if id.HardwareID == "" && id.Serial != "" {
		if hwid, err := device.NormalizeHardwareID(id.Serial); err == nil {
			id.HardwareID = hwid
		}
	}
	if id.HardwareID == "" && id.Serial == "" {
		return id, device.Failed("device reported neither serial number nor MAC address")
	}
	return id, device.OK("serial %s, mac %s", id.Serial, id.HardwareID)
}

// Probe checks that the TCP port is open and that the camera accepts the
// credentials. A refused or timed out connection is transient; rejected
// credentials are not.
func (c *Client) Probe(ctx context.Context, target device.Target, admin device.Credentials) device.Result {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.hostPort(target.Address))
	if err != nil {
		return device.ResultFromError(device.NewNetworkError("connect", target.Address.String(), err), "")
	}
	_ = conn.Close()

	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: usergroupPath, creds: &admin})
	if err != nil {
		return device.ResultFromError(err, "")
	}
	if err := statusError(resp, "probe"); err != nil {
		return device.ResultFromError(err, "")
	}
	return device.OK("reachable at %s", target.Address)
}
