package icsp

import "context"

// linkDebug traces all link traffic through a Logger.
type linkDebug struct {
	id   string
	l    Logger
	next Link
}

func (d *linkDebug) Send(ctx context.Context, p []byte) error {
	d.l.Printf("%5s >>  send(%d)", d.id, len(p))
	if len(p) > 0 {
		d.l.Printf("%s", hexDump(p))
	}
	err := d.next.Send(ctx, p)
	d.l.Printf("%5s <<  send %+v", d.id, err)
	return err
}

func (d *linkDebug) Receive(ctx context.Context, n int) ([]byte, error) {
	d.l.Printf("%5s >>  recv(%d)", d.id, n)
	p, err := d.next.Receive(ctx, n)
	d.l.Printf("%5s <<  recv %d %+v", d.id, len(p), err)
	if len(p) > 0 {
		d.l.Printf("%s", hexDump(p))
	}
	return p, err
}

func (d *linkDebug) Close() error {
	d.l.Printf("%5s >>  close", d.id)
	err := d.next.Close()
	d.l.Printf("%5s <<  close %#v", d.id, err)
	return err
}

// claim passes ownership through to the wrapped link.
func (d *linkDebug) claim() bool { return claimLink(d.next) == nil }
func (d *linkDebug) release()    { releaseLink(d.next) }
