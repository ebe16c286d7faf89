package responder

import "bytes"

// audioFormat is a detected container format for a voice-note payload.
type audioFormat struct {
	Ext  string
	MIME string
}

// sniffFormat identifies the audio container from its leading bytes.
// The declared MIME type from the gateway is advisory at best, so the
// payload itself is the source of truth. Unrecognized payloads fall
// back to ogg, the gateway's native voice-note container.
func sniffFormat(data []byte) audioFormat {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return audioFormat{Ext: ".ogg", MIME: "audio/ogg"}
	case bytes.HasPrefix(data, []byte("ID3")) || isMPEGSync(data):
		return audioFormat{Ext: ".mp3", MIME: "audio/mpeg"}
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WAVE")):
		return audioFormat{Ext: ".wav", MIME: "audio/wav"}
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return audioFormat{Ext: ".m4a", MIME: "audio/mp4"}
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return audioFormat{Ext: ".webm", MIME: "audio/webm"}
	case bytes.HasPrefix(data, []byte("fLaC")):
		return audioFormat{Ext: ".flac", MIME: "audio/flac"}
	case bytes.HasPrefix(data, []byte("#!AMR")):
		return audioFormat{Ext: ".amr", MIME: "audio/amr"}
	}
	return audioFormat{Ext: ".ogg", MIME: "audio/ogg"}
}

// isMPEGSync reports whether the payload starts with an MPEG audio
// frame sync word (11 set bits), which is how headerless mp3 streams
// begin.
func isMPEGSync(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
