package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dmitrijs2005/casesync/internal/client/services"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// printer renders command results as text or JSON.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) report(r *services.Report) error {
	if p.json {
		return p.encode(r)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Dictionary:\t%s\n", r.Dictionary)
	if r.Uploaded > 0 {
		fmt.Fprintf(tw, "Uploaded:\t%d cases (revision %d)\n", r.Uploaded, r.UploadRevision)
	}
	if r.Pages > 0 {
		fmt.Fprintf(tw, "Downloaded:\t%d cases in %d pages\n", r.Downloaded, r.Pages)
		fmt.Fprintf(tw, "Applied:\t%d\n", r.Applied)
		if r.Kept > 0 {
			fmt.Fprintf(tw, "Kept local:\t%d\n", r.Kept)
		}
		fmt.Fprintf(tw, "Revision:\t%d\n", r.LastRevision)
	}
	if r.Attachments > 0 {
		fmt.Fprintf(tw, "Attachments:\t%d\n", r.Attachments)
	}
	if r.Resynced {
		fmt.Fprintf(tw, "Note:\tfull resync was required\n")
	}
	return tw.Flush()
}

type statusView struct {
	Server       *wire.ServerInfo      `json:"server,omitempty"`
	ServerError  string                `json:"serverError,omitempty"`
	User         string                `json:"user,omitempty"`
	Device       string                `json:"device"`
	Dictionaries []wire.DictionaryInfo `json:"dictionaries,omitempty"`
	Local        *services.Status      `json:"local,omitempty"`
}

func (p *printer) status(v *statusView) error {
	if p.json {
		return p.encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if v.Server != nil {
		fmt.Fprintf(tw, "Server:\t%s (api %s)\n", v.Server.DeviceID, v.Server.APIVersion)
	} else {
		fmt.Fprintf(tw, "Server:\tunreachable: %s\n", v.ServerError)
	}
	user := v.User
	if user == "" {
		user = "(not logged in)"
	}
	fmt.Fprintf(tw, "User:\t%s\n", user)
	fmt.Fprintf(tw, "Device:\t%s\n", v.Device)
	for _, d := range v.Dictionaries {
		fmt.Fprintf(tw, "  %s\t%s\t%d cases\n", d.Name, d.Label, d.CaseCount)
	}
	if s := v.Local; s != nil {
		fmt.Fprintf(tw, "Dictionary:\t%s\n", s.Dictionary)
		fmt.Fprintf(tw, "Local cases:\t%d (%d pending upload, %d deleted)\n", s.Counts.Total, s.Counts.Dirty, s.Counts.Deleted)
		fmt.Fprintf(tw, "Revision:\t%d\n", s.State.LastRevision)
		if s.State.StartAfter != "" {
			fmt.Fprintf(tw, "Resume after:\t%s\n", s.State.StartAfter)
		}
		if s.State.Universe != "" {
			fmt.Fprintf(tw, "Universe:\t%s\n", s.State.Universe)
		}
		if s.State.SyncedAt != nil {
			fmt.Fprintf(tw, "Last sync:\t%s\n", s.State.SyncedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return tw.Flush()
}
