package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/version"
)

const userAgent = "CloudyDesk capsule/%s"

// DownloadToFile fetches url into dstFile. There is no retry: a failed
// download ends the capsule run and the operator reruns it.
func DownloadToFile(ctx context.Context, client *http.Client, url, dstFile string) error {
	log.Debugf("starting artifact download to %s", dstFile)

	out, err := os.Create(dstFile)
	if err != nil {
		return status.Wrap(status.DownloadFailed, "download", fmt.Errorf("failed to create destination file %q: %w", dstFile, err))
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", dstFile, cerr)
		}
	}()

	n, err := downloadOnce(ctx, client, url, out)
	if err != nil {
		return status.Wrap(status.DownloadFailed, "download", err)
	}

	log.Infof("downloaded %.1f MB to %s", float64(n)/(1024*1024), dstFile)
	return nil
}

func downloadOnce(ctx context.Context, client *http.Client, url string, out io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.ProvisioningVersion()))

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	// an expired or tampered grant shows up as 403
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write response body to file: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	return n, nil
}
