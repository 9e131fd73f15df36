package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/ipc"
)

// handleEvent routes one compositor notification to the registry or to the
// controller it addresses. Callbacks for unknown displays are benign no-ops;
// the compositor may keep delivering for a display whose registration failed
// or raced a removal.
func (r *Registry) handleEvent(ev ipc.Event) {
	switch ev.Kind {
	case ipc.EventDisplayAdded:
		id, err := parseDisplayPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		r.OnDisplayAdded(id)
	case ipc.EventDisplayRemoved:
		id, err := parseDisplayPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		r.OnDisplayRemoved(id)
	case ipc.EventInsetsState:
		id, snapshot, err := parseStatePayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		if pd := r.lookup(id); pd != nil {
			pd.StateChanged(snapshot)
		} else {
			r.logger.Debugf("state for unknown display %d, ignoring", id)
		}
	case ipc.EventInsetsControls:
		id, handles, err := parseControlsPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		if pd := r.lookup(id); pd != nil {
			pd.ControlsChanged(handles)
		}
	case ipc.EventHideInsets:
		id, mask, origin, err := parseVisibilityPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		if pd := r.lookup(id); pd != nil {
			pd.HideInsets(mask, origin)
		}
	case ipc.EventShowInsets:
		id, mask, origin, err := parseVisibilityPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		if pd := r.lookup(id); pd != nil {
			pd.ShowInsets(mask, origin)
		}
	case ipc.EventFocusChanged:
		id, pkg, err := parseFocusPayload(ev.Payload)
		if err != nil {
			r.logger.Warnf("bad %s payload: %v", ev.Kind, err)
			return
		}
		if pd := r.lookup(id); pd != nil {
			pd.FocusChanged(pkg)
		}
	default:
		r.logger.Tracef("ignoring event %s", ev.Kind)
	}
}

func parseDisplayPayload(payload string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, fmt.Errorf("invalid display id %q: %w", payload, err)
	}
	return id, nil
}

// parseStatePayload decodes "7,statusBar=1;navigationBar=0".
func parseStatePayload(payload string) (int, insets.Snapshot, error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, insets.Snapshot{}, fmt.Errorf("invalid insetsstate payload %q", payload)
	}
	id, err := parseDisplayPayload(parts[0])
	if err != nil {
		return 0, insets.Snapshot{}, err
	}
	snapshot := insets.NewSnapshot()
	body := strings.TrimSpace(parts[1])
	if body == "" {
		return id, snapshot, nil
	}
	for _, entry := range strings.Split(body, ";") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			return 0, insets.Snapshot{}, fmt.Errorf("invalid source entry %q", entry)
		}
		category, err := insets.ParseCategory(kv[0])
		if err != nil {
			return 0, insets.Snapshot{}, err
		}
		switch strings.TrimSpace(kv[1]) {
		case "1":
			snapshot.SetVisible(insets.MaskOf(category), true)
		case "0":
			snapshot.SetVisible(insets.MaskOf(category), false)
		default:
			return 0, insets.Snapshot{}, fmt.Errorf("invalid visibility flag %q in %q", kv[1], entry)
		}
	}
	return id, snapshot, nil
}

// parseControlsPayload decodes "7,statusBar:tok1;ime:tok2". An empty handle
// list revokes every control.
func parseControlsPayload(payload string) (int, []insets.ControlHandle, error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("invalid insetscontrols payload %q", payload)
	}
	id, err := parseDisplayPayload(parts[0])
	if err != nil {
		return 0, nil, err
	}
	body := strings.TrimSpace(parts[1])
	if body == "" {
		return id, nil, nil
	}
	entries := strings.Split(body, ";")
	handles := make([]insets.ControlHandle, 0, len(entries))
	for _, entry := range entries {
		kv := strings.SplitN(entry, ":", 2)
		if len(kv) != 2 || kv[1] == "" {
			return 0, nil, fmt.Errorf("invalid control entry %q", entry)
		}
		category, err := insets.ParseCategory(kv[0])
		if err != nil {
			return 0, nil, err
		}
		handles = append(handles, insets.ControlHandle{Category: category, Token: kv[1]})
	}
	return id, handles, nil
}

// parseVisibilityPayload decodes "7,ime|navigationBar,imeRequest"; the origin
// hint is optional.
func parseVisibilityPayload(payload string) (int, insets.Mask, string, error) {
	parts := strings.SplitN(payload, ",", 3)
	if len(parts) < 2 {
		return 0, 0, "", fmt.Errorf("invalid visibility payload %q", payload)
	}
	id, err := parseDisplayPayload(parts[0])
	if err != nil {
		return 0, 0, "", err
	}
	mask, err := insets.ParseMask(parts[1])
	if err != nil {
		return 0, 0, "", err
	}
	origin := ""
	if len(parts) == 3 {
		origin = strings.TrimSpace(parts[2])
	}
	return id, mask, origin, nil
}

// parseFocusPayload decodes "7,com.app.maps". An empty package means top
// focus moved to a window with no package, clearing the tracked focus.
func parseFocusPayload(payload string) (int, string, error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid focuschanged payload %q", payload)
	}
	id, err := parseDisplayPayload(parts[0])
	if err != nil {
		return 0, "", err
	}
	return id, strings.TrimSpace(parts[1]), nil
}
