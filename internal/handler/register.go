package handler

import "github.com/composeforge/composeforge/internal/router"

// Register wires every named wire event (spec §6) onto r. needSetup,
// setup, login and loginByToken are the only events reachable before
// authentication; everything else requires a logged-in session.
//
// Stack events are deliberately absent from this list: spec.md qualifies
// them as reachable "via the agent routing wrapper" only, so they live
// solely behind Agent's local-dispatch path (federation.go), never
// registered directly here.
func Register(r *router.Router, h *Handlers) {
	r.HandlePublic("needSetup", h.NeedSetup)
	r.HandlePublic("setup", h.Setup)
	r.HandlePublic("login", h.Login)
	r.HandlePublic("loginByToken", h.LoginByToken)

	r.Handle("changePassword", h.ChangePassword)
	r.Handle("disconnectOtherSocketClients", h.DisconnectOtherSocketClients)

	r.Handle("getSettings", h.GetSettings)
	r.Handle("setSettings", h.SetSettings)
	r.Handle("composerize", h.Composerize)

	r.Handle("terminalInput", h.TerminalInput)
	r.Handle("mainTerminal", h.MainTerminal)
	r.Handle("checkMainTerminal", h.CheckMainTerminal)
	r.Handle("interactiveTerminal", h.InteractiveTerminal)
	r.Handle("terminalJoin", h.TerminalJoin)
	r.Handle("leaveCombinedTerminal", h.LeaveCombinedTerminal)
	r.Handle("terminalResize", h.TerminalResize)

	r.Handle("addAgent", h.AddAgent)
	r.Handle("removeAgent", h.RemoveAgent)
	r.Handle("agent", h.Agent)
}
