package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/wire"
)

const defaultGlobalEnvPlaceholder = "# VARIABLE=value #comment"

// GetSettings returns every setting plus the raw global.env contents,
// mirroring original_source's handle_get_settings.
func (h *Handlers) GetSettings(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	all, err := h.settings.All(ctx)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	globalEnv, err := os.ReadFile(h.cfg.GlobalEnvPath())
	data := make(map[string]any, len(all)+1)
	for k, v := range all {
		data[k] = v
	}
	if err != nil {
		data["globalENV"] = defaultGlobalEnvPlaceholder
	} else {
		data["globalENV"] = string(globalEnv)
	}

	_ = c.Reply(msg.AckID, replyOK(map[string]any{"data": data}))
}

type setSettingsPayload map[string]json.RawMessage

// SetSettings persists a batch of settings plus (optionally) global.env
// content. Enabling disableAuth from a currently-auth-enabled state
// requires the caller's current password as a second argument.
func (h *Handlers) SetSettings(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	var payload setSettingsPayload
	if err := arg(msg.Args, 0, &payload); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("malformed settings payload"))
		return
	}
	currentPassword := argString(msg.Args, 1)

	globalEnvPath := h.cfg.GlobalEnvPath()
	if raw, ok := payload["globalENV"]; ok {
		var globalEnv string
		if err := json.Unmarshal(raw, &globalEnv); err == nil {
			if globalEnv != "" && globalEnv != defaultGlobalEnvPlaceholder {
				if err := os.MkdirAll(filepath.Dir(globalEnvPath), 0o755); err != nil {
					_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
					return
				}
				if err := os.WriteFile(globalEnvPath, []byte(globalEnv), 0o644); err != nil {
					_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
					return
				}
			} else {
				_ = os.Remove(globalEnvPath)
			}
		}
		delete(payload, "globalENV")
	}

	if raw, wantsDisable := payload[settings.DisableAuth]; wantsDisable && truthy(raw) {
		currentlyDisabled, _ := h.settings.GetBool(ctx, settings.DisableAuth)
		if !currentlyDisabled {
			if currentPassword == "" {
				_ = c.Reply(msg.AckID, wire.Fail("current password is required to disable authentication"))
				return
			}
			var user model.User
			if err := h.db.WithContext(ctx).First(&user, sess.UserID()).Error; err != nil {
				_ = c.Reply(msg.AckID, wire.Fail("user not found"))
				return
			}
			if !auth.CheckPassword(user.Password, currentPassword) {
				_ = c.Reply(msg.AckID, wire.Fail("incorrect password"))
				return
			}
		}
	}

	for key, raw := range payload {
		typ, value := settingTypeAndValue(raw)
		if err := h.settings.Set(ctx, key, value, typ); err != nil {
			_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
			return
		}
	}

	_ = c.Reply(msg.AckID, replyOK(map[string]any{"msg": "Saved", "msgi18n": false}))

	latestVersion, _, _ := h.settings.Get(ctx, settings.LatestVersion)
	primaryHostname, _, _ := h.settings.Get(ctx, settings.PrimaryHostname)
	_ = sess.Conn().Push("info", map[string]any{
		"version":         composeconst.Version,
		"latestVersion":   latestVersion,
		"isContainer":     isRunningInContainer(),
		"primaryHostname": primaryHostname,
	})
}

// truthy interprets a raw JSON value the way original_source's
// handle_set_settings does: JSON true, or the literal string "true".
func truthy(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s == "true"
	}
	return false
}

// settingTypeAndValue infers a model.SettingType from a raw JSON value and
// renders it to the flat string form the settings table stores.
func settingTypeAndValue(raw json.RawMessage) (model.SettingType, string) {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		if b {
			return model.SettingTypeBool, "true"
		}
		return model.SettingTypeBool, "false"
	}
	var n int
	if json.Unmarshal(raw, &n) == nil {
		return model.SettingTypeInt, fmt.Sprintf("%d", n)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return model.SettingTypeString, s
	}
	return model.SettingTypeString, string(raw)
}
