// Package discovery announces the appliance on the local network by
// maintaining an avahi service definition, and watches the network identity
// for changes.
package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"os"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/fsutil"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
)

// Record is what gets announced.
type Record struct {
	Name        string // instance name, usually "<hostname>.local"
	ServiceType string // e.g. _https._tcp
	Port        int
	TXT         map[string]string
}

// Publisher makes a Record visible to the network.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
}

type serviceGroup struct {
	XMLName xml.Name    `xml:"service-group"`
	Name    serviceName `xml:"name"`
	Service service     `xml:"service"`
}

type serviceName struct {
	ReplaceWildcards string `xml:"replace-wildcards,attr,omitempty"`
	Value            string `xml:",chardata"`
}

type service struct {
	Type string   `xml:"type"`
	Port int      `xml:"port"`
	TXT  []string `xml:"txt-record"`
}

const serviceHeader = `<?xml version="1.0" standalone='no'?>
<!DOCTYPE service-group SYSTEM "avahi-service.dtd">
`

// AvahiPublisher writes an avahi-daemon service file, which avahi picks up
// on its own.
type AvahiPublisher struct {
	ServiceFile string
	LockWait    time.Duration
}

// Publish writes the service file for r unless it already has that content.
func (p *AvahiPublisher) Publish(ctx context.Context, r Record) error {
	if r.Name == "" || r.ServiceType == "" || r.Port <= 0 {
		return errors.ValidationError("incomplete discovery record").
			WithContext("name", r.Name).
			WithContext("type", r.ServiceType).
			WithContext("port", r.Port).
			Build()
	}
	data, err := Render(r)
	if err != nil {
		return err
	}
	return lockfile.WithLock(ctx, p.ServiceFile, p.LockWait, func() error {
		current, err := os.ReadFile(p.ServiceFile)
		if err == nil && bytes.Equal(current, data) {
			return nil
		}
		return fsutil.WriteFileAtomic(p.ServiceFile, data, 0o644)
	})
}

// Render produces the avahi service definition for r. TXT entries are sorted by key.
func Render(r Record) ([]byte, error) {
	keys := make([]string, 0, len(r.TXT))
	for k := range r.TXT {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	txt := make([]string, 0, len(keys))
	for _, k := range keys {
		txt = append(txt, k+"="+r.TXT[k])
	}

	group := serviceGroup{
		Name:    serviceName{Value: r.Name},
		Service: service{Type: r.ServiceType, Port: r.Port, TXT: txt},
	}
	body, err := xml.MarshalIndent(group, "", "  ")
	if err != nil {
		return nil, errors.InternalError("encode avahi service").WithCause(err).Build()
	}
	var buf bytes.Buffer
	buf.WriteString(serviceHeader)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ReadIdentity returns the hostname recorded in path.
func ReadIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", errors.NotFoundError("network identity not set").WithContext("path", path).Build()
	}
	if err != nil {
		return "", errors.FileSystemError("read network identity").WithCause(err).WithContext("path", path).Build()
	}
	host := strings.TrimSpace(string(data))
	if host == "" {
		return "", errors.ValidationError("network identity is empty").WithContext("path", path).Build()
	}
	return host, nil
}
