package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types"

	"github.com/plotforge/plotforge/internal/ctxlog"
)

// sandboxPackages are the libraries pre-installed in the recipe sandbox.
// Recipes cannot install anything at run time (no network), so this set is
// part of the execution contract.
var sandboxPackages = []string{
	"numpy",
	"pandas",
	"xlrd",
	"openpyxl",
	"markdownify",
	"sentence_transformers",
}

// sandboxDockerfile renders the pinned sandbox image definition. The recipe
// runs as an unprivileged user matching the host UID/GID so bundle files
// stay owned by the invoking user.
func sandboxDockerfile() string {
	return `FROM python:3.11-slim
ARG UID=1000
ARG GID=1000
RUN addgroup appgroup --gid "$GID"
RUN adduser appuser --uid "$UID" --gid "$GID" --disabled-password --gecos ""
USER appuser
RUN pip install --no-cache-dir --upgrade pip --no-warn-script-location
RUN pip install --no-cache-dir ` + strings.Join(sandboxPackages, " ") + ` --no-warn-script-location
WORKDIR /app
ENTRYPOINT ["python", "recipe/generate.py"]`
}

// EnsureImage builds the sandbox image under the configured tag. Building is
// idempotent: the daemon reuses cached layers when nothing changed.
func (d *Docker) EnsureImage(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("building sandbox image", "tag", d.opts.Image)

	buildContext, err := tarDockerfile(sandboxDockerfile())
	if err != nil {
		return fmt.Errorf("preparing build context: %w", err)
	}

	uid := fmt.Sprintf("%d", os.Getuid())
	gid := fmt.Sprintf("%d", os.Getgid())
	resp, err := d.client.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{d.opts.Image},
		Dockerfile: "Dockerfile",
		Remove:     true,
		BuildArgs:  map[string]*string{"UID": &uid, "GID": &gid},
	})
	if err != nil {
		return fmt.Errorf("building sandbox image: %w", err)
	}
	defer resp.Body.Close()

	// The build stream is a sequence of JSON messages; surface per-line
	// output at debug and fail on the first reported error.
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			break
		}
		if msg.Error != "" {
			return fmt.Errorf("sandbox image build failed: %s", msg.Error)
		}
		if line := strings.TrimRight(msg.Stream, "\n"); line != "" {
			logger.Debug(line)
		}
	}
	return nil
}

// tarDockerfile packs a Dockerfile into the tar stream the build API wants.
func tarDockerfile(content string) (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf.Bytes()), nil
}
