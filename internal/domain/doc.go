package domain

// Package domain contains the core concepts of the pdf2png service: the fixed
// render and canvas geometry, and the failure kinds every handler reports.
// Keep this package free of transport (HTTP) and infrastructure (MuPDF/Redis) concerns.
