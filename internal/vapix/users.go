package vapix

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

const (
	pwdgrpPath    = "/axis-cgi/pwdgrp.cgi"
	usergroupPath = "/axis-cgi/usergroup.cgi"

	adminGroups = "admin:operator:viewer:ptz"
	userComment = "created by camstage"
)

// CreateInitialAdmin creates the first administrator on a factory-default
// camera. The call is unauthenticated. A 401/403 means the camera already
// has an administrator; in that case the configured credentials are tried
// once and a successful login counts as success.
func (c *Client) CreateInitialAdmin(ctx context.Context, target device.Target, username, password string) device.Result {
	q := url.Values{}
	q.Set("action", "add")
	q.Set("user", username)
	q.Set("pwd", password)
	q.Set("grp", "root")
	q.Set("sgrp", adminGroups)

	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: pwdgrpPath, query: q})
	if err != nil {
		return device.ResultFromError(err, "")
	}

	switch resp.status {
	case http.StatusOK:
		if isAlreadyExists(resp.text()) {
			return c.confirmExistingAdmin(ctx, target, username, password)
		}
		if msg, failed := pwdgrpError(resp.text()); failed {
			return device.Failed("create admin %s: %s", username, msg)
		}
		return device.OK("initial admin %s created", username)
	case http.StatusUnauthorized, http.StatusForbidden:
		logging.Info("Camera is not in factory state, checking configured credentials",
			zap.String("device", target.ID()),
			zap.String("username", username),
		)
		return c.confirmExistingAdmin(ctx, target, username, password)
	default:
		return device.ResultFromError(statusError(resp, "create admin"), "")
	}
}

func (c *Client) confirmExistingAdmin(ctx context.Context, target device.Target, username, password string) device.Result {
	creds := device.Credentials{Username: username, Password: password}
	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: usergroupPath, creds: &creds})
	if err != nil {
		return device.ResultFromError(err, "")
	}
	if resp.status == http.StatusOK {
		return device.OK("admin %s already exists with matching credentials", username)
	}
	return device.Failed("camera is not in factory-default state and the configured admin credentials were rejected (HTTP %d)", resp.status)
}

// CreateSecondaryAdmin adds a second administrator authenticated as admin.
func (c *Client) CreateSecondaryAdmin(ctx context.Context, target device.Target, admin device.Credentials, username, password string) device.Result {
	q := url.Values{}
	q.Set("action", "add")
	q.Set("user", username)
	q.Set("pwd", password)
	q.Set("grp", "users")
	q.Set("sgrp", adminGroups)
	q.Set("comment", userComment)
	return c.addUser(ctx, target, admin, q, "secondary admin "+username)
}

// CreateIntegrationUser adds the ONVIF integration user through VAPIX.
func (c *Client) CreateIntegrationUser(ctx context.Context, target device.Target, admin device.Credentials, username, password string) device.Result {
	q := url.Values{}
	q.Set("action", "add")
	q.Set("user", username)
	q.Set("pwd", password)
	q.Set("grp", "users")
	q.Set("sgrp", "viewer:operator:admin:onvif")
	q.Set("comment", userComment)
	return c.addUser(ctx, target, admin, q, "integration user "+username)
}

func (c *Client) addUser(ctx context.Context, target device.Target, admin device.Credentials, q url.Values, what string) device.Result {
	resp, err := c.do(ctx, target.Address, request{method: http.MethodGet, path: pwdgrpPath, query: q, creds: &admin})
	if err != nil {
		return device.ResultFromError(err, "")
	}
	if err := statusError(resp, "create "+what); err != nil {
		return device.ResultFromError(err, "")
	}
	if isAlreadyExists(resp.text()) {
		return device.OK("%s already exists", what)
	}
	if msg, failed := pwdgrpError(resp.text()); failed {
		return device.Failed("create %s: %s", what, msg)
	}
	return device.OK("%s created", what)
}

func isAlreadyExists(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "already exist")
}

// pwdgrpError extracts the error text pwdgrp.cgi embeds in a 200 response.
func pwdgrpError(body string) (string, bool) {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "error") {
		return "", false
	}
	return snippet(stripTags(body)), true
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
