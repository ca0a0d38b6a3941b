package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/Paddel87/AIMAlocal-sub001/internal/app/worker"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

// DetectFacesAction uploads an image for face detection.
func DetectFacesAction(ctx context.Context, cmd *cli.Command) error {
	return uploadAndMaybeWatch(ctx, cmd, func(appCtx *AppContext, f *os.File) (*domain.JobAccepted, error) {
		return appCtx.API.DetectFaces(ctx, filepath.Base(f.Name()), f)
	})
}

// TranscribeAction uploads an audio file for transcription.
func TranscribeAction(ctx context.Context, cmd *cli.Command) error {
	language := cmd.String("language")
	return uploadAndMaybeWatch(ctx, cmd, func(appCtx *AppContext, f *os.File) (*domain.JobAccepted, error) {
		return appCtx.API.TranscribeAudio(ctx, filepath.Base(f.Name()), f, language)
	})
}

func uploadAndMaybeWatch(
	ctx context.Context,
	cmd *cli.Command,
	upload func(*AppContext, *os.File) (*domain.JobAccepted, error),
) error {
	f, err := os.Open(cmd.String("file"))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	accepted, err := upload(appCtx, f)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Printf("job %s accepted (%s)\n", accepted.JobID, accepted.Status)

	if !cmd.Bool("watch") {
		return nil
	}
	return runWatch(ctx, appCtx, []string{accepted.JobID}, worker.RunOptions{UntilDone: true}, "")
}
