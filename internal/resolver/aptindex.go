package resolver

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"

	"github.com/scottjg/nvidia-armsbc/internal/distro"
	"github.com/scottjg/nvidia-armsbc/internal/driver"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// resolveFromHTTPIndex scans the distribution's binary Packages index for the
// newest nvidia-dkms-<major>-open entry. It is the fallback path when the
// resolving host has no apt (e.g. the orchestrator running on an rpm
// distribution and resolving an Ubuntu target).
func (r *Resolver) resolveFromHTTPIndex(identity *distro.Identity) (driver.Version, error) {
	log := logger.Logger()

	if identity.Codename == "" {
		return "", fmt.Errorf("%w: distribution codename unknown, cannot locate the archive index", ErrVersionNotFound)
	}

	client := newSecureHTTPClient()
	base := strings.TrimRight(r.cfg.AptIndexURL, "/")

	// Packages.xz is the current archive format; older dists carry .gz.
	var body []byte
	var fetched string
	for _, fname := range []string{"Packages.xz", "Packages.gz"} {
		url := fmt.Sprintf("%s/dists/%s/restricted/binary-%s/%s",
			base, identity.Codename, r.cfg.DebArch, fname)
		data, err := fetchIndex(client, url)
		if err != nil {
			log.Debugf("index %s not usable: %v", url, err)
			continue
		}
		body = data
		fetched = fname
		break
	}
	if body == nil {
		return "", fmt.Errorf("%w: no Packages index under %s/dists/%s", ErrVersionNotFound, base, identity.Codename)
	}

	var reader io.Reader
	switch {
	case strings.HasSuffix(fetched, ".xz"):
		xzr, err := xz.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("decompressing %s: %w", fetched, err)
		}
		reader = xzr
	case strings.HasSuffix(fetched, ".gz"):
		gzr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("decompressing %s: %w", fetched, err)
		}
		defer gzr.Close()
		reader = gzr
	}

	name, version, err := scanPackagesIndex(reader)
	if err != nil {
		return "", err
	}

	v, err := driver.Parse(upstreamVersion(version))
	if err != nil {
		return "", fmt.Errorf("index version of %s: %w", name, err)
	}
	log.Infof("Resolved NVIDIA driver version %s from %s (archive index)", v, name)
	return v, nil
}

// scanPackagesIndex walks the stanza-per-package Packages format and returns
// the name and version of the open-driver package with the highest major.
func scanPackagesIndex(r io.Reader) (string, string, error) {
	versions := map[string]string{}
	var current string

	if err := forEachIndexLine(r, func(line string) {
		switch {
		case strings.HasPrefix(line, "Package: "):
			current = strings.TrimSpace(strings.TrimPrefix(line, "Package: "))
		case strings.HasPrefix(line, "Version: "):
			if debPackagePattern.MatchString(current) {
				versions[current] = strings.TrimSpace(strings.TrimPrefix(line, "Version: "))
			}
		case line == "":
			current = ""
		}
	}); err != nil {
		return "", "", fmt.Errorf("reading Packages index: %w", err)
	}

	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	best, ok := bestDebPackage(names)
	if !ok {
		return "", "", fmt.Errorf("%w: no nvidia-dkms-*-open entry in the archive index", ErrVersionNotFound)
	}
	return best, versions[best], nil
}

func forEachIndexLine(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	// Description fields can produce long lines; give the scanner headroom.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}

// fetchIndex downloads one index file, showing progress on a terminal since
// Packages indexes run to tens of megabytes.
func fetchIndex(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+url[strings.LastIndex(url, "/")+1:])

	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, bar), resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newSecureHTTPClient returns an http.Client with a pinned-down TLS
// configuration for archive index downloads.
func newSecureHTTPClient() *http.Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}

	transport := &http.Transport{
		TLSClientConfig:   tlsConfig,
		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
	}
}
