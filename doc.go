// Package interviewrt manages the realtime voice session of an interview
// trainer: it obtains an ephemeral credential, negotiates a WebRTC audio
// connection plus the "oai-events" data channel with the remote
// conversational endpoint, and keeps session and conversation state
// consistent while events arrive.
//
// Key Features:
//   - Race-free Connect / SendMessage / Disconnect control surface
//   - Pure event interpreter over the inbound event vocabulary
//   - Ordered, append-only conversation log
//   - Typed errors surfaced as human-readable state, never as panics
//   - Connect retry with exponential backoff
//   - WebSocket bridge streaming state to a UI
//
// Basic Usage:
//
//	m, err := interviewrt.New(interviewrt.Config{
//		TokenURL:    "http://localhost:8080/api/realtime",
//		AudioSource: webrtc.OggFileSource{Path: "mic.ogg", Loop: true},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	m.OnStateChange(func(st interviewrt.SessionState) { fmt.Println(st.Phase, st.Transcript) })
//	if st := m.Connect(ctx, "You are a technical interviewer."); st.Error != "" {
//		log.Fatal(st.Error)
//	}
//	defer m.Disconnect()
//	m.SendMessage("Hello, I am ready to start.")
//
// The WebRTC plumbing lives in the webrtc subpackage and can be used on its own.
package interviewrt
