package dms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"dmscheck/internal/config"
)

// Selectors for the DMS web UI. The frontend is an SPA with a stable
// component library, so classes rather than ids carry most of the structure.
const (
	selRegionPopupButton = `//button[@buttontype='primary' and contains(@class, 'primary')][.//div[contains(text(), 'Да, верно')]]`
	selLoginButton       = `button[buttontype='tertiary'].enter-btn`
	selLoginInput        = `#login`
	selPasswordInput     = `#password`
	selSubmitButton      = `#submitButton`
	selSubsystemCard     = `//nes-subsystem-card[.//div[contains(text(), 'Панель дистрибьютора')]]//a`
	selDocumentsLink     = `//a[contains(text(), 'Документы')]`
	selSearchInput       = `//input[@placeholder='Поиск' and contains(@class, 'gui-input-field-element')]`
	selOrgInput          = `//input[contains(@class, 'gui-select__input') and @title]`
	selTableBody         = `.gui-table-body`
)

// Headless Chrome announces itself in its user agent, which the DMS frontend
// rejects; a desktop UA keeps headless and headful behavior identical.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// orgStructureLabel is the full option text the select expects; the city is
// the only varying part.
func orgStructureLabel(city string) string {
	return fmt.Sprintf("ООО «Континент» (%s)", city)
}

const surfaceLoadedJS = `(() => {
	const table = document.querySelector('gui-table.invoice-list');
	if (!table) return false;
	return !table.className.includes('invoice-list--loading');
})()`

const emptyResultJS = `(() => {
	for (const el of document.querySelectorAll('div')) {
		const cls = ('' + el.className);
		const text = (el.textContent || '').trim();
		if (cls.includes('empty-message') || text === 'Нет данных' || text.includes('ничего не найдено')) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return true;
		}
	}
	return false;
})()`

const resultRowCountJS = `(() => {
	const body = document.querySelector('.gui-table-body');
	if (!body) return 0;
	let n = 0;
	for (const tr of body.querySelectorAll('tr')) {
		if (tr.querySelector('td')) n++;
	}
	return n;
})()`

// BrowserSession is the chromedp-backed RemoteSession. One instance is one
// Chrome process; recovery discards the instance and builds a new one.
type BrowserSession struct {
	cfg config.Config
	log *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

var _ RemoteSession = (*BrowserSession)(nil)

func NewBrowserSession(cfg config.Config, log *zap.SugaredLogger) *BrowserSession {
	return &BrowserSession{cfg: cfg, log: log}
}

func (b *BrowserSession) Open(ctx context.Context) error {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("start-maximized", true),
	)

	// The browser must outlive the caller's ctx: the session stays up
	// across many Check calls.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	b.ctx = tabCtx
	b.cancel = func() {
		tabCancel()
		allocCancel()
	}

	openCtx, cancel := b.step(ctx, time.Duration(b.cfg.LoginTimeoutSec)*time.Second)
	defer cancel()

	err := chromedp.Run(openCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(userAgent).Do(ctx)
		}),
		chromedp.Navigate(b.cfg.DMSBaseURL),
	)
	if err != nil {
		return fmt.Errorf("open main page: %w", err)
	}

	// The region-confirmation popup only appears on fresh profiles; missing
	// it is not an error.
	popupCtx, popupCancel := b.step(ctx, 10*time.Second)
	defer popupCancel()
	if err := chromedp.Run(popupCtx,
		chromedp.Click(selRegionPopupButton, chromedp.BySearch),
	); err != nil {
		b.log.Debugw("region popup not shown", "err", err)
	}
	return nil
}

func (b *BrowserSession) Login(ctx context.Context, username, password string) error {
	loginCtx, cancel := b.step(ctx, time.Duration(b.cfg.LoginTimeoutSec)*time.Second)
	defer cancel()

	err := chromedp.Run(loginCtx,
		chromedp.Click(selLoginButton, chromedp.ByQuery),
		chromedp.WaitVisible(selLoginInput, chromedp.ByQuery),
		chromedp.SetValue(selLoginInput, "", chromedp.ByQuery),
		chromedp.SendKeys(selLoginInput, username, chromedp.ByQuery),
		chromedp.SetValue(selPasswordInput, "", chromedp.ByQuery),
		chromedp.SendKeys(selPasswordInput, password, chromedp.ByQuery),
		chromedp.Click(selSubmitButton, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (b *BrowserSession) NavigateToSearch(ctx context.Context) error {
	navCtx, cancel := b.step(ctx, time.Duration(b.cfg.LoginTimeoutSec)*time.Second)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Click(selSubsystemCard, chromedp.BySearch),
		chromedp.Click(selDocumentsLink, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("navigate to documents: %w", err)
	}

	if err := b.pollBool(ctx, surfaceLoadedJS, 30*time.Second); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLoadTimeout
		}
		return fmt.Errorf("wait for search surface: %w", err)
	}
	return nil
}

func (b *BrowserSession) CurrentCity(ctx context.Context) (string, error) {
	cityCtx, cancel := b.step(ctx, 5*time.Second)
	defer cancel()

	var title string
	var ok bool
	err := chromedp.Run(cityCtx,
		chromedp.AttributeValue(selOrgInput, "title", &title, &ok, chromedp.BySearch),
	)
	if err != nil {
		return "", fmt.Errorf("read org-structure: %w", err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(title), nil
}

func (b *BrowserSession) SwitchCity(ctx context.Context, city string) error {
	label := orgStructureLabel(city)

	switchCtx, cancel := b.step(ctx, time.Duration(b.cfg.SwitchTimeoutSec)*time.Second)
	defer cancel()

	err := chromedp.Run(switchCtx,
		chromedp.Click(selOrgInput, chromedp.BySearch),
		chromedp.SetValue(selOrgInput, "", chromedp.BySearch),
		chromedp.SendKeys(selOrgInput, label+kb.Enter, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("switch org-structure: %w", err)
	}

	// Confirm the select actually took effect before searching in it.
	deadline := time.Now().Add(time.Duration(b.cfg.SwitchTimeoutSec) * time.Second)
	for time.Now().Before(deadline) {
		current, err := b.CurrentCity(ctx)
		if err == nil && strings.Contains(current, city) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return fmt.Errorf("org-structure switch to %q not confirmed", city)
}

func (b *BrowserSession) SubmitQuery(ctx context.Context, query string) error {
	queryCtx, cancel := b.step(ctx, 20*time.Second)
	defer cancel()

	err := chromedp.Run(queryCtx,
		chromedp.WaitVisible(selSearchInput, chromedp.BySearch),
		chromedp.Click(selSearchInput, chromedp.BySearch),
		chromedp.SetValue(selSearchInput, "", chromedp.BySearch),
		chromedp.SendKeys(selSearchInput, query, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	return nil
}

func (b *BrowserSession) WaitForResult(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var loaded, empty bool
		var rows int
		checkCtx, cancel := b.step(ctx, 3*time.Second)
		err := chromedp.Run(checkCtx,
			chromedp.Evaluate(surfaceLoadedJS, &loaded),
			chromedp.Evaluate(emptyResultJS, &empty),
			chromedp.Evaluate(resultRowCountJS, &rows),
		)
		cancel()
		if err == nil && loaded && (empty || rows > 0) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return ErrResultTimeout
}

func (b *BrowserSession) HasEmptyResult(ctx context.Context) (bool, error) {
	resCtx, cancel := b.step(ctx, 5*time.Second)
	defer cancel()

	var empty bool
	if err := chromedp.Run(resCtx, chromedp.Evaluate(emptyResultJS, &empty)); err != nil {
		return false, fmt.Errorf("read result state: %w", err)
	}
	if empty {
		return true, nil
	}

	rows, err := b.resultRows(resCtx)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, errors.New("indeterminate result: no rows and no empty indicator")
	}
	return false, nil
}

// resultRows pulls the rendered table body and parses the data rows out of
// it. Header-only rows carry no td cells and are skipped.
func (b *BrowserSession) resultRows(ctx context.Context) ([]string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML(selTableBody, &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read result table: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse result table: %w", err)
	}

	rows := []string{}
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("td").Length() == 0 {
			return
		}
		number := strings.TrimSpace(tr.Find(`[gui-col-name='invoiceNumber']`).Text())
		if number == "" {
			number = strings.TrimSpace(tr.Find("td").First().Text())
		}
		rows = append(rows, strings.ReplaceAll(number, " ", " "))
	})
	return rows, nil
}

func (b *BrowserSession) Alive(ctx context.Context) bool {
	if b.ctx == nil {
		return false
	}
	aliveCtx, cancel := b.step(ctx, 2*time.Second)
	defer cancel()

	var one int
	if err := chromedp.Run(aliveCtx, chromedp.Evaluate(`1`, &one)); err != nil {
		return false
	}
	return one == 1
}

func (b *BrowserSession) Teardown() error {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
		b.ctx = nil
	}
	return nil
}

// step derives a bounded chromedp context that also stops when the caller's
// ctx is canceled.
func (b *BrowserSession) step(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(b.ctx, timeout)
	if ctx == nil {
		return stepCtx, cancel
	}
	stop := context.AfterFunc(ctx, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

func (b *BrowserSession) pollBool(ctx context.Context, js string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var ok bool
		checkCtx, cancel := b.step(ctx, 3*time.Second)
		err := chromedp.Run(checkCtx, chromedp.Evaluate(js, &ok))
		cancel()
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return context.DeadlineExceeded
}
