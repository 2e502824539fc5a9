package trafficshaper

import "time"

// WebBrowsing approximates bursty HTTP page loads: small upstream requests,
// larger downstream responses, occasional multi-object bursts when a page
// loads several resources at once.
var WebBrowsing = ApplicationProfile{
	Name:     "web_browsing",
	Category: "http",
	InterPacketDelay: Distribution{
		Mean: float64(80 * time.Millisecond), StdDev: float64(40 * time.Millisecond), Min: 0,
	},
	UpstreamSize:   Distribution{Mean: 300, StdDev: 150, Min: 40, Max: 1460},
	DownstreamSize: Distribution{Mean: 1200, StdDev: 400, Min: 40, Max: 1460},
	Bursts: []BurstPattern{
		{TriggerProbability: 0.05, PacketCount: 6, PacketSize: 1400, Spacing: 5 * time.Millisecond},
	},
}

// VideoStreaming approximates steady, large downstream chunks with sparse
// upstream acknowledgements.
var VideoStreaming = ApplicationProfile{
	Name:     "video_streaming",
	Category: "media",
	InterPacketDelay: Distribution{
		Mean: float64(20 * time.Millisecond), StdDev: float64(5 * time.Millisecond), Min: 0,
	},
	UpstreamSize:   Distribution{Mean: 80, StdDev: 20, Min: 40, Max: 200},
	DownstreamSize: Distribution{Mean: 1400, StdDev: 80, Min: 200, Max: 1460},
	Bursts: []BurstPattern{
		{TriggerProbability: 0.15, PacketCount: 10, PacketSize: 1460, Spacing: 1 * time.Millisecond},
	},
}

// VoiceCall approximates small, frequent, near-symmetric packets typical of
// real-time audio.
var VoiceCall = ApplicationProfile{
	Name:     "voice_call",
	Category: "realtime",
	InterPacketDelay: Distribution{
		Mean: float64(20 * time.Millisecond), StdDev: float64(2 * time.Millisecond), Min: 0,
	},
	UpstreamSize:   Distribution{Mean: 160, StdDev: 20, Min: 60, Max: 250},
	DownstreamSize: Distribution{Mean: 160, StdDev: 20, Min: 60, Max: 250},
}

// Catalog maps a configured application_profile_name to its
// ApplicationProfile.
var Catalog = map[string]ApplicationProfile{
	WebBrowsing.Name:   WebBrowsing,
	VideoStreaming.Name: VideoStreaming,
	VoiceCall.Name:     VoiceCall,
}
