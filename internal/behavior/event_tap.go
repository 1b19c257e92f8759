package behavior

import (
	"context"
	"fmt"
	"strings"

	"github.com/outrider-security/sentinel/internal/codesign"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// keyboardEventMask is the union of keyDown|keyUp|flagsChanged CGEventType
// bits (1<<10 | 1<<11 | 1<<12) an event tap must include to be relevant to
// keystroke capture.
const keyboardEventMask = 1<<10 | 1<<11 | 1<<12

// EventTapScan flags any enabled, keyboard-observing event tap whose
// tapping process's code-signing identifier is not in a benign allow-list.
// An allow-listed identifier still appears in output, its reasons merely
// prefixed with the identifier, so a trojaned allow-listed binary is never
// silently cleared.
type EventTapScan struct {
	EventTaps platform.EventTaps
	Validator *codesign.Validator
	Allowlist []string
}

func (e *EventTapScan) Name() string { return "behavior.event_tap_scan" }

func (e *EventTapScan) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	if e.EventTaps == nil {
		return nil, nil
	}
	taps, err := e.EventTaps.List(ctx)
	if err != nil {
		return nil, nil
	}
	var anomalies []model.Anomaly
	for _, tap := range taps {
		if !tap.Enabled || tap.EventMask&keyboardEventMask == 0 {
			continue
		}
		name := snap.Name(tap.TappingPID)
		path := snap.Path(tap.TappingPID)

		var reasons []string
		if tap.SystemWide {
			reasons = append(reasons, "system-wide event tap")
		}

		identifier := ""
		if e.Validator != nil && path != "" {
			if info, verr := e.Validator.Validate(path); verr == nil {
				identifier = info.SigningID
				if info.Status != model.SigningSigned {
					reasons = append(reasons, "unsigned or invalid code signature")
				}
				if !info.IsApplePlatformBinary {
					reasons = append(reasons, "non-Apple tapping process")
				}
			} else {
				reasons = append(reasons, "unable to validate code signature")
			}
		}

		if len(reasons) == 0 {
			continue
		}

		allowlisted := identifier != "" && containsString(e.Allowlist, identifier)
		if allowlisted {
			for i, r := range reasons {
				reasons[i] = identifier + ": " + r
			}
		}

		sev := model.SeverityHigh
		if allowlisted {
			sev = model.SeverityMedium
		}
		subject := model.ProcessSubject(tap.TappingPID, name, path)
		ev := model.NewEvidence(
			model.Pair("tapping_pid", fmt.Sprintf("%d", tap.TappingPID)),
			model.Pair("target_pid", fmt.Sprintf("%d", tap.TargetPID)),
			model.Pair("event_mask", fmt.Sprintf("%#x", tap.EventMask)),
			model.Pair("reasons", strings.Join(reasons, "; ")),
		)
		anomalies = append(anomalies, model.NewProcessAnomaly(e.Name(), "Suspicious Keyboard Event Tap",
			fmt.Sprintf("pid %d (%s) installed a keyboard-observing event tap: %s", tap.TappingPID, name, strings.Join(reasons, "; ")),
			sev, "T1056.001", "CGEventTap enumeration", subject, ev))
	}
	return anomalies, nil
}
