package progress

// Step is one entry of the download → fingerprint → ready indicator.
type Step struct {
	Label  string
	Done   bool
	Active bool
}

// View is the combined job view. It is derived from a State on demand and
// never stored.
type View struct {
	Visible    bool
	Complete   bool
	Failed     bool
	Icon       string
	Headline   string
	Detail     string
	Percentage float64
	Title      string
	Artist     string
	Steps      []Step

	// OfferFingerprint reports whether the "start fingerprinting" action
	// should be presented.
	OfferFingerprint bool
}

// Derive computes the view for s.
func Derive(s State) View {
	acq, fp := s.Acquisition, s.Fingerprint
	complete := acq.Status == StatusComplete && fp.Status == StatusComplete

	current := acq
	if fp.Visible {
		current = fp
	}

	v := View{
		Visible:          acq.Visible || fp.Visible || s.Offer,
		Complete:         complete,
		Failed:           current.Status == StatusError,
		Title:            current.Title,
		Artist:           current.Artist,
		OfferFingerprint: s.Offer && !fp.Visible && !complete,
	}

	switch {
	case complete:
		v.Percentage = 100
	case fp.Visible:
		v.Percentage = 50 + float64(fp.Percentage)*0.5
	default:
		v.Percentage = float64(acq.Percentage) * 0.5
	}

	switch {
	case complete:
		v.Icon = "✅"
	case v.Failed:
		v.Icon = "❌"
	case fp.Visible:
		v.Icon = "🎵"
	case acq.Visible:
		v.Icon = "⬇️"
	default:
		v.Icon = "⏳"
	}

	switch {
	case complete:
		v.Headline = "Song Ready!"
	case fp.Visible:
		v.Headline = "Creating Fingerprints"
	case acq.Visible:
		v.Headline = "Downloading Song"
	default:
		v.Headline = "Processing..."
	}

	v.Detail = detail(complete, acq, fp)
	if v.Failed && current.Message != "" {
		v.Detail = current.Message
	}

	v.Steps = []Step{
		{Label: "Download", Done: acq.Status == StatusComplete, Active: acq.Percentage > 0},
		{Label: "Fingerprint", Done: fp.Status == StatusComplete, Active: fp.Percentage > 0},
		{Label: "Ready", Done: complete, Active: complete},
	}
	return v
}

func detail(complete bool, acq, fp Phase) string {
	if complete {
		return "Song has been added to your library"
	}
	if fp.Visible {
		switch fp.Status {
		case StatusStarting:
			return "Initializing fingerprinting process..."
		case StatusProcessing:
			return "Analyzing audio patterns..."
		case StatusFingerprinting:
			return "Creating unique audio signature..."
		default:
			return "Processing audio fingerprints..."
		}
	}
	if acq.Visible {
		switch acq.Status {
		case StatusStarting:
			return "Initializing download..."
		case StatusProcessing:
			return "Fetching song information..."
		case StatusDownloading:
			return "Downloading from YouTube..."
		case StatusComplete:
			return "Download completed successfully!"
		default:
			return "Processing download..."
		}
	}
	return "Working on your request..."
}
