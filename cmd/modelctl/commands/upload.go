package commands

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var webZipPath, inferenceZipPath, version, author, description string

	cmd := &cobra.Command{
		Use:   "upload <model-name>",
		Short: "Package and deploy a model from a web_app.zip and inference_app.zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return upload(args[0], webZipPath, inferenceZipPath, version, author, description)
		},
	}

	cmd.Flags().StringVar(&webZipPath, "web-app", "", "path to the web_app zip (required)")
	cmd.Flags().StringVar(&inferenceZipPath, "inference-app", "", "path to the inference_app zip (required)")
	cmd.Flags().StringVar(&version, "version", "", "optional model version")
	cmd.Flags().StringVar(&author, "author", "", "optional author")
	cmd.Flags().StringVar(&description, "description", "", "optional description")
	cmd.MarkFlagRequired("web-app")
	cmd.MarkFlagRequired("inference-app")

	return cmd
}

func upload(modelName, webZipPath, inferenceZipPath, version, author, description string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("model_name", modelName); err != nil {
		return err
	}
	for _, field := range []struct{ key, val string }{
		{"version", version}, {"author", author}, {"description", description},
	} {
		if field.val != "" {
			mw.WriteField(field.key, field.val)
		}
	}

	if err := attachFile(mw, "web_app", webZipPath); err != nil {
		return err
	}
	if err := attachFile(mw, "inference_app", inferenceZipPath); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := httpClient.Post(serverAddr+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("POST /upload: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("upload failed: status %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println(string(body))
	return nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, path)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
