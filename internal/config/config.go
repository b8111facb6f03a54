package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	AuthPassword   string
	ICEServersJSON string

	AWSRegion        string
	TranscribeRegion string
	TranslateRegion  string
	PollyRegion      string

	CognitoIdentityPoolID   string
	CognitoUserPoolProvider string
	SSMParameterPrefix      string

	TTSProvider   string
	PollyEngine   string
	DeepgramKey   string
	DeepgramModel string

	CustomerLanguage string
	AgentLanguage    string
	CustomerVoiceID  string
	AgentVoiceID     string

	FeedbackAudioPath string
	StreamFilePath    string
	// CustomerStreamMic lets the agent hear the customer's untranslated
	// voice under the translation.
	CustomerStreamMic bool

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	ArchiveS3Bucket    string

	ServiceTimeout time.Duration
	SpeakerDevice  string
	MicDevice      string
}

// notDefined marks an unset parameter in Parameter Store.
const notDefined = "not-defined"

type lookupFunc func(key string) string

// Load reads .env, the optional Parameter Store overlay and the environment,
// in increasing order of precedence.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}
	params := map[string]string{}
	if prefix := os.Getenv("SSM_PARAMETER_PREFIX"); prefix != "" {
		p, err := loadParameters(prefix)
		if err != nil {
			log.Printf("Warning: parameter store overlay %s unavailable: %v", prefix, err)
		}
		params = p
	}
	return build(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := params[key]; v != notDefined {
			return v
		}
		return ""
	})
}

func build(get lookupFunc) Config {
	or := func(key, def string) string {
		if v := get(key); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		HTTPAddress:    or("HTTP_ADDRESS", ":8080"),
		AuthPassword:   get("AUTH_PASSWORD"),
		ICEServersJSON: or("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`),

		AWSRegion: or("AWS_REGION", "us-east-1"),

		CognitoIdentityPoolID:   get("COGNITO_IDENTITY_POOL_ID"),
		CognitoUserPoolProvider: get("COGNITO_USER_POOL_PROVIDER"),
		SSMParameterPrefix:      get("SSM_PARAMETER_PREFIX"),

		TTSProvider:   or("TTS_PROVIDER", "polly"),
		PollyEngine:   or("POLLY_ENGINE", "neural"),
		DeepgramKey:   get("DEEPGRAM_API_KEY"),
		DeepgramModel: get("DEEPGRAM_MODEL"),

		CustomerLanguage: or("CUSTOMER_LANGUAGE", "es-US"),
		AgentLanguage:    or("AGENT_LANGUAGE", "en-US"),
		CustomerVoiceID:  or("CUSTOMER_VOICE_ID", "Lupe"),
		AgentVoiceID:     or("AGENT_VOICE_ID", "Joanna"),

		FeedbackAudioPath: get("FEEDBACK_AUDIO_PATH"),
		StreamFilePath:    get("STREAM_FILE_PATH"),

		SupabaseURL:        get("SUPABASE_URL"),
		SupabaseServiceKey: get("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     get("SUPABASE_BUCKET"),
		ArchiveS3Bucket:    get("ARCHIVE_S3_BUCKET"),

		ServiceTimeout: 10 * time.Second,
		SpeakerDevice:  get("SPEAKER_DEVICE"),
		MicDevice:      get("MIC_DEVICE"),
	}
	cfg.TranscribeRegion = or("TRANSCRIBE_REGION", cfg.AWSRegion)
	cfg.TranslateRegion = or("TRANSLATE_REGION", cfg.AWSRegion)
	cfg.PollyRegion = or("POLLY_REGION", cfg.AWSRegion)

	if v := get("CUSTOMER_STREAM_MIC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: CUSTOMER_STREAM_MIC=%q is not a boolean, using false", v)
		}
		cfg.CustomerStreamMic = b
	}

	if v := get("SERVICE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ServiceTimeout = d
		} else if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.ServiceTimeout = time.Duration(s) * time.Second
		} else {
			log.Printf("Warning: SERVICE_TIMEOUT=%q is not a duration, using %s", v, cfg.ServiceTimeout)
		}
	}

	if cfg.AuthPassword == "" {
		log.Println("Warning: AUTH_PASSWORD not set - /ws accepts any client")
	}
	if cfg.TTSProvider == "deepgram" && cfg.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}
	if cfg.CognitoIdentityPoolID != "" && cfg.CognitoUserPoolProvider == "" {
		log.Println("Warning: COGNITO_USER_POOL_PROVIDER not set - identity pool credentials disabled")
	}
	if (cfg.SupabaseURL == "") != (cfg.SupabaseServiceKey == "") {
		log.Println("Warning: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must both be set")
	}

	log.Printf("config: HTTP_ADDRESS=%s AWS_REGION=%s TTS_PROVIDER=%s", cfg.HTTPAddress, cfg.AWSRegion, cfg.TTSProvider)
	return cfg
}

// UseCognito reports whether credentials come from the identity pool.
func (c Config) UseCognito() bool {
	return c.CognitoIdentityPoolID != "" && c.CognitoUserPoolProvider != ""
}
