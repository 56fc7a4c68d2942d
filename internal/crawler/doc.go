// Package crawler holds the domain types shared by the archiver: options,
// pages, assets, jobs and the interfaces that capture drivers, stores and
// publishers implement. URL normalization and scope rules live here too.
package crawler
