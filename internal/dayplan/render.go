package dayplan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"transitcal/internal/model"
)

// uidNamespace scopes the UUIDv5 identifiers of rendered events.
var uidNamespace = uuid.MustParse("6f1d3c52-8b7e-4a47-9a2c-3b1f0e5d7c19")

const displayClock = "03:04 PM"

// Render turns a RouteInfo into a calendar entry. Times are shown in loc and
// the entry carries tz as its zone label.
func Render(r *model.RouteInfo, tz string, loc *time.Location) model.TransitEvent {
	if loc == nil {
		loc = time.UTC
	}
	dep := r.PredictedDeparture.In(loc)
	arr := r.EstimatedArrival.In(loc)

	ev := model.TransitEvent{
		Start:      dep,
		End:        arr,
		TimeZone:   tz,
		IsFallback: r.IsFallback,
	}

	var b strings.Builder
	if r.IsWalkingOnly() {
		ev.Kind = model.KindWalking
		ev.Summary = fmt.Sprintf("Walking: %s to %s", r.FromLocation, r.ToLocation)
		ev.Location = fmt.Sprintf("Walk from %s to %s", r.FromLocation, r.ToLocation)
		b.WriteString("WALKING DIRECTIONS\n\n")
		fmt.Fprintf(&b, "From: %s (%s)\n", r.FromEvent, r.FromLocation)
		fmt.Fprintf(&b, "To: %s (%s)\n\n", r.ToEvent, r.ToLocation)
		fmt.Fprintf(&b, "Estimated walking time: %.1f minutes\n", r.EstimatedTravelTimeMinutes)
	} else {
		ev.Kind = model.KindTransit
		ev.Summary = fmt.Sprintf("Transit: %s to %s", r.FromLocation, r.ToLocation)
		ev.Location = fmt.Sprintf("Transit from %s to %s", r.FromLocation, r.ToLocation)
		b.WriteString("PUBLIC TRANSIT INFORMATION\n\n")
		fmt.Fprintf(&b, "From: %s (%s)\n", r.FromEvent, r.FromLocation)
		fmt.Fprintf(&b, "To: %s (%s)\n\n", r.ToEvent, r.ToLocation)
		fmt.Fprintf(&b, "Travel time: %.1f minutes\n", r.EstimatedTravelTimeMinutes)
		fmt.Fprintf(&b, "Depart at: %s\n", dep.Format(displayClock))
		fmt.Fprintf(&b, "Arrive by: %s\n", arr.Format(displayClock))
		if legs := describeLegs(r.Itinerary.Legs, loc); legs != "" {
			b.WriteString("\n")
			b.WriteString(legs)
		}
	}
	if r.IsFallback {
		b.WriteString("\n(estimated from straight-line distance)\n")
	}
	ev.Description = b.String()

	key := fmt.Sprintf("%s|%s|%s", r.FromLocation, r.ToLocation, arr.UTC().Format(time.RFC3339))
	ev.UID = uuid.NewSHA1(uidNamespace, []byte(key)).String()
	return ev
}

func describeLegs(legs []model.Leg, loc *time.Location) string {
	if len(legs) < 2 {
		return ""
	}
	var b strings.Builder
	for i, l := range legs {
		fmt.Fprintf(&b, "%d. %s %s", i+1, l.Start.In(loc).Format(displayClock), strings.ToLower(l.Mode))
		if l.From != "" || l.To != "" {
			fmt.Fprintf(&b, " %s -> %s", l.From, l.To)
		}
		b.WriteString("\n")
	}
	return b.String()
}
