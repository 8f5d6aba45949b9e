package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	AuthPassword   string
	PublicBaseURL  string
	ICEServersJSON string
	LogLevel       string
	LogFormat      string

	DefaultLanguage string

	AssemblyAIKey string

	CerebrasKey     string
	CerebrasModelID string
	LLMTimeout      time.Duration

	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioFromNumber      string
	EmergencyNotifyNumber string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	// envFileErr is kept so the caller can log it once a logger exists.
	envFileErr error
}

const defaultICEServersJSON = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Load reads environment variables (and .env when present) and returns Config with sane defaults.
func Load() Config {
	envErr := godotenv.Load()

	timeout := 30 * time.Second
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}

	return Config{
		HTTPAddress:    getEnv("HTTP_ADDRESS", ":8080"),
		AuthPassword:   os.Getenv("AUTH_PASSWORD"),
		PublicBaseURL:  strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		ICEServersJSON: getEnv("ICE_SERVERS_JSON", defaultICEServersJSON),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),

		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en-US"),

		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		LLMTimeout:      timeout,

		TTSProvider:       strings.ToLower(getEnv("TTS_PROVIDER", "deepgram")),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     os.Getenv("DEEPGRAM_MODEL"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:      os.Getenv("TWILIO_FROM_NUMBER"),
		EmergencyNotifyNumber: os.Getenv("EMERGENCY_NOTIFY_NUMBER"),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "conversation-transcripts"),

		envFileErr: envErr,
	}
}

// Warnings lists degraded features for the operator. Missing provider keys
// disable a capability but never stop the server.
func (c Config) Warnings() []string {
	var w []string
	if c.envFileErr != nil {
		w = append(w, "no .env file loaded: "+c.envFileErr.Error())
	}
	if c.CerebrasKey == "" {
		w = append(w, "CEREBRAS_API_KEY not set - triage and document analysis will fail")
	}
	if c.AssemblyAIKey == "" {
		w = append(w, "ASSEMBLYAI_API_KEY not set - server-side transcription disabled, clients must send their own recognition results")
	}
	switch c.TTSProvider {
	case "elevenlabs":
		if c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "" {
			w = append(w, "ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - spoken replies disabled")
		}
	default:
		if c.DeepgramKey == "" {
			w = append(w, "DEEPGRAM_API_KEY not set - spoken replies disabled")
		}
	}
	if !c.TwilioEnabled() {
		w = append(w, "Twilio not fully configured - emergency notifications are logged only")
	}
	if !c.ArchiveEnabled() {
		w = append(w, "SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - transcripts are not archived")
	}
	return w
}

// TwilioEnabled reports whether emergency SMS can be sent.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != "" && c.EmergencyNotifyNumber != ""
}

// SMSStatusCallback is the delivery webhook Twilio posts to, or "" when no
// public URL is known.
func (c Config) SMSStatusCallback() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + SMSStatusPath
}

// SMSStatusPath is where Twilio delivery updates are received.
const SMSStatusPath = "/twilio/sms-status"

// ArchiveEnabled reports whether closed conversations are uploaded.
func (c Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
