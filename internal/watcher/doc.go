// Package watcher keeps a project index current by watching its tree with fsnotify.
//
// In incremental mode each path is debounced separately and dispatched as a single
// update or removal once it has been quiet for the debounce window. In first-file
// mode, used for projects without an index, creations are buffered until the whole
// tree has been quiet for the quiet period; the watcher then asks for one full index
// and switches to incremental mode.
package watcher
