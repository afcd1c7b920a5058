// Package page is the client-side script host.
//
// A Document couples a goja runtime with a lightweight DOM so injected
// third-party scripts really execute and use() extractors can read the
// globals they install. It also emulates the browser signals triggers wait
// on: event listeners, element visibility and hover, idle callbacks, the
// application-ready signal and a service worker container.
//
// Components:
//   - Document: trigger host and script injector
//   - DOM / Element: element tree queried by id, class or tag
//   - Globals: read and call runtime globals by dotted path
//   - ServiceWorkerContainer: controller state and controllerchange
//
// Example Usage:
//
//	doc, err := page.New(page.DefaultConfig(), fetcher, logger)
//	doc.MarkReady()
//	done := doc.Inject(ctx, &script.Descriptor{Key: "ga", Src: src})
//	_, err = done.Await(ctx)
//	v, ok := doc.Globals().Get("dataLayer")
package page
