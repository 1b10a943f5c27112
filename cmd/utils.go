package cmd

import (
	"flag"
	"fmt"
	"log"

	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/core/encoding"
	"fedtext-backend/internal/database"

	ort "github.com/yalue/onnxruntime_go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := config.LoadEnv(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// InitOnnxRuntime points the ONNX runtime at the shared library and
// initializes the environment. Callers must invoke the returned cleanup when
// done.
func InitOnnxRuntime(dylib string) (func(), error) {
	if dylib == "" {
		return nil, fmt.Errorf("ONNX_RUNTIME_DYLIB must be set")
	}

	ort.SetSharedLibraryPath(dylib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("could not init ONNX runtime: %w", err)
	}

	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.Printf("error destroying onnx env: %v", err)
		}
	}, nil
}

// NewEncoders builds the tokenizer and the ONNX feature encoder from the
// configured model.
func NewEncoders(cfg config.Config) (*encoding.BertEncoder, *core.OnnxEncoder, error) {
	textEncoder, err := encoding.NewBertEncoder(cfg.ModelName)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load tokenizer: %w", err)
	}

	featureEncoder, err := core.NewOnnxEncoder(cfg.EncoderPath, cfg.HiddenSize)
	if err != nil {
		textEncoder.Close()
		return nil, nil, fmt.Errorf("could not load encoder model: %w", err)
	}

	return textEncoder, featureEncoder, nil
}

func ConnectPostgres(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
